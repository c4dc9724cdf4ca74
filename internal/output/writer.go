// Package output provides the interface, configuration and implementations of
// the writers that publish run results.
package output

import (
	"fmt"

	"github.com/jakopako/goverify/internal/types"
)

// Writer defines the interface for all writers that are responsible for
// writing run results to a specific output.
type Writer interface {
	// Write consumes results until resultChan is closed.
	Write(resultChan <-chan types.Result)
}

// WriterConfig defines the necessary paramters to make a new writer
// which is responsible for writing the run results to a specific output
// eg. stdout.
type WriterConfig struct {
	Type     WriterType `yaml:"type" env:"GOVERIFY_WRITER"`
	Uri      string     `yaml:"uri" env:"GOVERIFY_WRITER_URI"`
	User     string     `yaml:"user" env:"GOVERIFY_WRITER_USER"`         // we want to be able to pass credentials via env vars
	Password string     `yaml:"password" env:"GOVERIFY_WRITER_PASSWORD"` // we want to be able to pass credentials via env vars
	FileDir  string     `yaml:"filedir"`
	DryRun   bool       `yaml:"dryrun"`
	DBPath   string     `yaml:"db_path" env:"GOVERIFY_HISTORY_DB"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	NONE_WRITER_TYPE   WriterType = ""
	STDOUT_WRITER_TYPE WriterType = "stdout"
	FILE_WRITER_TYPE   WriterType = "file"
	API_WRITER_TYPE    WriterType = "api"
	SQLITE_WRITER_TYPE WriterType = "sqlite"
)

// NewWriter returns a new writer depending on the writer type. It returns a
// nil Writer for NONE_WRITER_TYPE.
func NewWriter(wc *WriterConfig) (Writer, error) {
	switch wc.Type {
	case NONE_WRITER_TYPE:
		return nil, nil
	case STDOUT_WRITER_TYPE:
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc)
	case SQLITE_WRITER_TYPE:
		return NewSQLiteWriter(wc)
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}
