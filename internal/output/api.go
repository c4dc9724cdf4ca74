package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jakopako/goverify/internal/types"
)

// APIWriter represents a writer that posts every result to an http endpoint,
// e.g. a dashboard collecting verification runs.
type APIWriter struct {
	*WriterConfig
	client *http.Client
	logger *slog.Logger
}

// NewAPIWriter returns a new APIWriter
func NewAPIWriter(wc *WriterConfig) (*APIWriter, error) {
	if wc.Uri == "" {
		return nil, errors.New("uri needs to be specified for the APIWriter")
	}
	return &APIWriter{
		WriterConfig: wc,
		client: &http.Client{
			Timeout: time.Second * 60,
		},
		logger: slog.With(slog.String("writer", string(API_WRITER_TYPE))),
	}, nil
}

func (w *APIWriter) Write(resultChan <-chan types.Result) {
	nrWritten := 0
	for result := range resultChan {
		if w.DryRun {
			w.logger.Info(fmt.Sprintf("dry run: not posting result of run %s (%s, %s)", result.RunID, result.Scenario, result.Status))
			continue
		}
		if err := w.post(result); err != nil {
			w.logger.Error(fmt.Sprintf("error while posting result of run %s: %v", result.RunID, err))
			continue
		}
		nrWritten++
	}
	if !w.DryRun {
		w.logger.Info(fmt.Sprintf("wrote %d results to the api", nrWritten))
	}
}

func (w *APIWriter) post(result types.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", w.Uri, bytes.NewBuffer(resultJSON))
	if err != nil {
		return err
	}
	req.Header = map[string][]string{
		"Content-Type": {"application/json"},
	}
	if w.User != "" {
		req.SetBasicAuth(w.User, w.Password)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug(fmt.Sprintf("post request body %s", resultJSON))
		return fmt.Errorf("error while sending post request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error while reading post request response: %w", err)
		}
		return fmt.Errorf("unexpected status code %d, response: %s", resp.StatusCode, body)
	}
	return nil
}
