package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jakopako/goverify/internal/log"
)

// waitForServer probes baseURL with exponential backoff until it answers with
// a status below 500 or maxWait elapsed.
func waitForServer(ctx context.Context, baseURL string, maxWait time.Duration) error {
	logger := log.LoggerFromContext(ctx)
	client := &http.Client{Timeout: 2 * time.Second}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", baseURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status code error: %d", resp.StatusCode)
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		logger.Debug(fmt.Sprintf("server not ready, retrying in %v", d), slog.String("err", err.Error()))
	}
	if err := backoff.RetryNotify(probe, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("server at %s not reachable within %v: %w", baseURL, maxWait, err)
	}
	return nil
}
