// Package util provides common string helpers for the command console.
package util

import "strings"

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// SplitArgs splits a console line on blanks. Double-quoted sections keep
// their blanks, and "" inside quotes is a literal quote.
// An unterminated quote runs to the end of the line.
func SplitArgs(s string) []string {
	var (
		args     []string
		b        strings.Builder
		inQuotes bool
		inToken  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuotes && c == '"':
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			inQuotes = false
		case c == '"':
			inQuotes, inToken = true, true
		case !inQuotes && (c == ' ' || c == '\t'):
			if inToken {
				args = append(args, b.String())
				b.Reset()
				inToken = false
			}
		default:
			b.WriteByte(c)
			inToken = true
		}
	}
	if inToken {
		args = append(args, b.String())
	}
	return args
}

// NormalizeCommand upper-cases name and wraps it in colons, so "create",
// ":create" and ":CREATE:" all become ":CREATE:".
func NormalizeCommand(name string) string {
	name = strings.ToUpper(strings.Trim(strings.TrimSpace(name), ":"))
	if name == "" {
		return ""
	}
	return ":" + name + ":"
}

// ParseCommandLine splits line into a normalized command and its arguments.
// Blank lines yield an empty command.
func ParseCommandLine(line string) (command string, args []string) {
	fields := SplitArgs(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", nil
	}
	return NormalizeCommand(fields[0]), fields[1:]
}
