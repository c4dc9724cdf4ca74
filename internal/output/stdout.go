package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jakopako/goverify/internal/types"
)

// StdoutWriter represents a writer that writes every result as indented json
// to stdout.
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(resultChan <-chan types.Result) {
	for result := range resultChan {
		b, err := encodeJSON(result)
		if err != nil {
			w.logger.Error(fmt.Sprintf("error while writing result of run %s: %v", result.RunID, err))
			continue
		}
		fmt.Fprint(w.out, string(b))
	}
}

// encodeJSON encodes v as indented json without escaping html characters, so
// that selectors like `button[aria-label='Send']` stay readable.
func encodeJSON(v any) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
