package output

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jakopako/goverify/internal/history"
	"github.com/jakopako/goverify/internal/types"
)

// SQLiteWriter records every result in the run history database.
type SQLiteWriter struct {
	store  *history.Store
	logger *slog.Logger
}

// NewSQLiteWriter returns a new SQLiteWriter. The database is created if it
// does not exist.
func NewSQLiteWriter(wc *WriterConfig) (*SQLiteWriter, error) {
	path := wc.DBPath
	if path == "" {
		path = history.DefaultPath
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteWriter{
		store:  store,
		logger: slog.With(slog.String("writer", string(SQLITE_WRITER_TYPE))),
	}, nil
}

// Write records the results and closes the database once resultChan is closed.
func (w *SQLiteWriter) Write(resultChan <-chan types.Result) {
	defer w.store.Close()
	nrWritten := 0
	for result := range resultChan {
		if err := w.store.Record(context.Background(), result); err != nil {
			w.logger.Error(fmt.Sprintf("error while recording run %s: %v", result.RunID, err))
			continue
		}
		nrWritten++
	}
	w.logger.Info(fmt.Sprintf("recorded %d runs in the history", nrWritten))
}
