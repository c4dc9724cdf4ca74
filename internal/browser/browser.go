// Package browser provides the browser sessions that verification scenarios run in.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a condition is not met within its bound.
	ErrTimeout = errors.New("timeout")
	// ErrNotFound is returned when no element matches a target.
	ErrNotFound = errors.New("element not found")
)

// StatusError is returned by Navigate when the document was answered with a
// non-2xx status code.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code error: %d %s (%s)", e.StatusCode, e.Status, e.URL)
}

// State is the element state waited for by WaitFor.
type State string

const (
	StateVisible  State = "visible"
	StateAttached State = "attached"
)

// Target locates elements by css selector. A non-empty HasText keeps only the
// elements whose text content contains HasText, ignoring case.
type Target struct {
	Selector string
	HasText  string
}

func (t Target) String() string {
	if t.HasText == "" {
		return t.Selector
	}
	return fmt.Sprintf("%s (text %q)", t.Selector, t.HasText)
}

// Attribute is the result of an attribute lookup on the first element
// matching a target.
type Attribute struct {
	Found   bool   `json:"found"`   // an element matched
	Present bool   `json:"present"` // the element carries the attribute
	Value   string `json:"value"`
}

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// SessionOptions configure a single session.
type SessionOptions struct {
	Viewport  Viewport
	UserAgent string
}

// Config holds the driver settings shared by all sessions of a driver.
type Config struct {
	// BrowserPath is the chrome binary. Empty means autodetect.
	BrowserPath string
	// Headless is false to show the browser window.
	Headless bool
	// NavigationTimeout bounds each navigation.
	NavigationTimeout time.Duration
}

// A Driver launches browser sessions.
type Driver interface {
	Name() string
	// Launch acquires a fresh session. The caller owns the session and must
	// Close it.
	Launch(ctx context.Context, opts SessionOptions) (Session, error)
}

// A Session is one exclusively owned browser page. All methods block until
// the operation is done or ctx is done. Close is safe to call more than once.
type Session interface {
	// Navigate loads url and waits for the document to load. A non-2xx answer
	// is reported as *StatusError.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching t reaches state or the timeout
	// elapses, in which case an error wrapping ErrTimeout is returned.
	WaitFor(ctx context.Context, t Target, state State, timeout time.Duration) error
	// IsVisible checks once whether an element matching t is visible.
	IsVisible(ctx context.Context, t Target) (bool, error)
	Count(ctx context.Context, t Target) (int, error)
	Attribute(ctx context.Context, t Target, name string) (Attribute, error)
	// Click waits up to timeout for the first matching element to become
	// visible and clicks it. With force the click is dispatched on the element
	// directly as soon as it is attached.
	Click(ctx context.Context, t Target, force bool, timeout time.Duration) error
	Focus(ctx context.Context, t Target) error
	// Screenshot returns a png of the viewport or of the full page.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// NewDriver returns a new driver depending on the driver name.
func NewDriver(name string, cfg Config) (Driver, error) {
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 30 * time.Second // default
	}
	switch name {
	case "chromedp", "":
		return NewChromeDriver(cfg), nil
	case "rod":
		return NewRodDriver(cfg), nil
	case "static":
		return NewStaticDriver(cfg), nil
	default:
		return nil, fmt.Errorf("driver '%s' not implemented", name)
	}
}

const pollInterval = 100 * time.Millisecond

// poll calls check until it reports true or ctx is done. Errors returned by
// check are treated as transient (e.g. the page navigated while evaluating)
// and are only reported if the deadline is hit.
func poll(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		ok, err := check(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return contextError(ctx, lastErr)
		case <-ticker.C:
		}
	}
}

// contextError converts the error of a done context. A deadline becomes
// ErrTimeout, a cancellation is returned as is.
func contextError(ctx context.Context, cause error) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w (last error: %v)", ErrTimeout, cause)
	}
	return ErrTimeout
}

// withTimeout derives a context from ctx that is done after timeout. A zero
// timeout keeps ctx's own deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
