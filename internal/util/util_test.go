package util

import (
	"slices"
	"testing"
)

func TestTrimQuotes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no quotes", "hello", "hello"},
		{"double quoted", `"hello"`, "hello"},
		{"single quotes only", "'hello'", "'hello'"},
		{"quotes in middle", `he"llo`, `he"llo`},
		{"only quotes", `""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimQuotes(tt.input)
			if result != tt.expected {
				t.Errorf("TrimQuotes(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFixEscapeQuotes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no escaped quotes", "hello", "hello"},
		{"single escaped quote", `he""llo`, `he"llo`},
		{"multiple escaped quotes", `a""b""c`, `a"b"c`},
		{"consecutive escaped", `a""""b`, `a""b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FixEscapeQuotes(tt.input)
			if result != tt.expected {
				t.Errorf("FixEscapeQuotes(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"blanks only", "  \t ", nil},
		{"plain words", ":JOIN: ABCDE", []string{":JOIN:", "ABCDE"}},
		{"repeated blanks", "a   b\tc", []string{"a", "b", "c"}},
		{"quoted title", `:CREATE: "Park game" 500`, []string{":CREATE:", "Park game", "500"}},
		{"escaped quote", `"say ""hi"""`, []string{`say "hi"`}},
		{"empty quoted", `a "" b`, []string{"a", "", "b"}},
		{"quote inside word", `north"ern park"`, []string{"northern park"}},
		{"unterminated quote", `"open end`, []string{"open end"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SplitArgs(tt.input)
			if !slices.Equal(result, tt.expected) {
				t.Errorf("SplitArgs(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"create", ":CREATE:"},
		{":create", ":CREATE:"},
		{":CREATE:", ":CREATE:"},
		{" pos ", ":POS:"},
		{"::", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeCommand(tt.input); got != tt.expected {
			t.Errorf("NormalizeCommand(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseCommandLine(t *testing.T) {
	cmd, args := ParseCommandLine(`  safehouse 37.97,23.72 600 `)
	if cmd != ":SAFEHOUSE:" {
		t.Errorf("command = %q", cmd)
	}
	if !slices.Equal(args, []string{"37.97,23.72", "600"}) {
		t.Errorf("args = %q", args)
	}

	cmd, args = ParseCommandLine("   ")
	if cmd != "" || args != nil {
		t.Errorf("blank line parsed as %q %q", cmd, args)
	}
}
