package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGelfHandler returns a JSON handler that ships each record to a Graylog
// GELF UDP input at address. Close the returned closer on shutdown.
func NewGelfHandler(address, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gelf writer: %w", err)
	}
	return slog.NewJSONHandler(w, HandlerOptions(level)), w, nil
}
