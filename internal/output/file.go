package output

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jakopako/goverify/internal/types"
)

const resultsFilename = "results.json"

// FileWriter represents a writer that collects all results and writes them
// as one json array to a file
type FileWriter struct {
	*WriterConfig
	logger *slog.Logger
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}

	if err := os.MkdirAll(wc.FileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", wc.FileDir, err)
	}

	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
	}, nil
}

func (w *FileWriter) Write(resultChan <-chan types.Result) {
	allResults := []types.Result{}
	for result := range resultChan {
		allResults = append(allResults, result)
	}

	b, err := encodeJSON(allResults)
	if err != nil {
		w.logger.Error(fmt.Sprintf("error while encoding results: %v", err))
		return
	}
	path := filepath.Join(w.FileDir, resultsFilename)
	if err := os.WriteFile(path, b, 0644); err != nil {
		w.logger.Error(fmt.Sprintf("error while writing results to file: %v", err))
		return
	}
	w.logger.Info(fmt.Sprintf("wrote %d results to file %s", len(allResults), path))
}
