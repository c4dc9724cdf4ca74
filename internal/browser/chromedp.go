package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/goverify/internal/log"
)

// The ChromeDriver runs sessions in a chrome instance controlled through the
// devtools protocol by chromedp. Every session gets its own browser process.
type ChromeDriver struct {
	Config
}

func NewChromeDriver(cfg Config) *ChromeDriver {
	return &ChromeDriver{Config: cfg}
}

func (d *ChromeDriver) Name() string { return "chromedp" }

func (d *ChromeDriver) Launch(ctx context.Context, opts SessionOptions) (Session, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("driver", d.Name()))
	logger.Debug("launching browser", slog.String("user-agent", opts.UserAgent))

	w, h := opts.Viewport.Width, opts.Viewport.Height
	if w == 0 || h == 0 {
		w, h = 1920, 1080 // init with a desktop view
	}
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(w, h),
	)
	if !d.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if d.BrowserPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(d.BrowserPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	// The browser lives until Close, independent of the launch context.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	s := &chromeSession{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		navTimeout:    d.NavigationTimeout,
		logger:        logger,
	}

	actions := []chromedp.Action{chromedp.EmulateViewport(int64(w), int64(h))}
	// log chrome version in debug mode
	if log.Debug {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, revision, userAgent, jsVersion, err := browser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, revision=%s, userAgent=%s, jsVersion=%s",
				protocolVersion, product, revision, userAgent, jsVersion))
			return nil
		}))
	}

	// The first run allocates the browser and ties it to the context it is
	// given, so it has to be the session context itself.
	stop := context.AfterFunc(ctx, cancelBrowser)
	defer stop()
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	navTimeout    time.Duration
	logger        *slog.Logger
	tokens        atomic.Int64
	closeOnce     sync.Once
	closeErr      error
}

// scope returns a context for a single action. It carries the browser of the
// session and is done when ctx is done or timeout elapsed.
func (s *chromeSession) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	var cancelTimeout context.CancelFunc
	if dl, ok := ctx.Deadline(); ok && (timeout <= 0 || time.Until(dl) < timeout) {
		c, cancelTimeout = context.WithDeadline(c, dl)
	} else {
		c, cancelTimeout = withTimeout(c, timeout)
	}
	return c, func() {
		cancelTimeout()
		stop()
		cancel()
	}
}

// fail converts an error of an action run in the scoped context c.
func (s *chromeSession) fail(ctx, c context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("navigating", slog.String("url", url))
	c, cancel := s.scope(ctx, s.navTimeout)
	defer cancel()
	resp, err := chromedp.RunResponse(c, chromedp.Navigate(url))
	if err != nil {
		return s.fail(ctx, c, err)
	}
	if resp != nil && (resp.Status < 200 || resp.Status > 299) {
		return &StatusError{URL: url, StatusCode: int(resp.Status), Status: resp.StatusText}
	}
	return nil
}

func (s *chromeSession) evaluate(ctx context.Context, expr string, res any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(expr, res))
}

func (s *chromeSession) WaitFor(ctx context.Context, t Target, state State, timeout time.Duration) error {
	c, cancel := s.scope(ctx, timeout)
	defer cancel()
	expr := jsCall(jsState, t.Selector, t.HasText, string(state))
	err := poll(c, func(c context.Context) (bool, error) {
		var ok bool
		err := s.evaluate(c, expr, &ok)
		return ok, err
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) IsVisible(ctx context.Context, t Target) (bool, error) {
	c, cancel := s.scope(ctx, 0)
	defer cancel()
	var ok bool
	if err := s.evaluate(c, jsCall(jsState, t.Selector, t.HasText, string(StateVisible)), &ok); err != nil {
		return false, s.fail(ctx, c, err)
	}
	return ok, nil
}

func (s *chromeSession) Count(ctx context.Context, t Target) (int, error) {
	c, cancel := s.scope(ctx, 0)
	defer cancel()
	var n int
	if err := s.evaluate(c, jsCall(jsCount, t.Selector, t.HasText), &n); err != nil {
		return 0, s.fail(ctx, c, err)
	}
	return n, nil
}

func (s *chromeSession) Attribute(ctx context.Context, t Target, name string) (Attribute, error) {
	c, cancel := s.scope(ctx, 0)
	defer cancel()
	var a Attribute
	if err := s.evaluate(c, jsCall(jsAttribute, t.Selector, t.HasText, name), &a); err != nil {
		return Attribute{}, s.fail(ctx, c, err)
	}
	return a, nil
}

// mark polls until an element matching t can be tagged and returns the
// token addressing it.
func (s *chromeSession) mark(ctx context.Context, t Target, requireVisible bool) (string, error) {
	token := fmt.Sprintf("t%d", s.tokens.Add(1))
	expr := jsCall(jsMark, t.Selector, t.HasText, token, requireVisible)
	err := poll(ctx, func(c context.Context) (bool, error) {
		var ok bool
		err := s.evaluate(c, expr, &ok)
		return ok, err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *chromeSession) Click(ctx context.Context, t Target, force bool, timeout time.Duration) error {
	c, cancel := s.scope(ctx, timeout)
	defer cancel()
	token, err := s.mark(c, t, !force)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if force {
		var ok bool
		if err := s.evaluate(c, jsCall(jsForceClick, token), &ok); err != nil {
			return s.fail(ctx, c, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s detached before click", ErrNotFound, t)
		}
		return nil
	}
	if err := chromedp.Run(c, chromedp.Click(markerSelector(token), chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return s.fail(ctx, c, err)
	}
	return nil
}

func (s *chromeSession) Focus(ctx context.Context, t Target) error {
	c, cancel := s.scope(ctx, 0)
	defer cancel()
	var token string
	var err error
	if token, err = s.markOnce(c, t); err != nil {
		return s.fail(ctx, c, err)
	}
	var ok bool
	if err := s.evaluate(c, jsCall(jsFocus, token), &ok); err != nil {
		return s.fail(ctx, c, err)
	}
	if !ok {
		return fmt.Errorf("%s did not receive focus", t)
	}
	return nil
}

// markOnce tags the first element matching t without waiting.
func (s *chromeSession) markOnce(ctx context.Context, t Target) (string, error) {
	token := fmt.Sprintf("t%d", s.tokens.Add(1))
	var ok bool
	if err := s.evaluate(ctx, jsCall(jsMark, t.Selector, t.HasText, token, false), &ok); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	return token, nil
}

func (s *chromeSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	c, cancel := s.scope(ctx, 0)
	defer cancel()
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := chromedp.Run(c, action); err != nil {
		return nil, s.fail(ctx, c, err)
	}
	return buf, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancelBrowser()
		s.cancelAlloc()
		s.logger.Debug("browser closed")
	})
	return s.closeErr
}
