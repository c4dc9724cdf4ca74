package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/jakopako/goverify/internal/log"
)

// The RodDriver runs sessions in a chrome instance controlled by go-rod. Like
// the ChromeDriver every session launches its own browser process.
type RodDriver struct {
	Config
}

func NewRodDriver(cfg Config) *RodDriver {
	return &RodDriver{Config: cfg}
}

func (d *RodDriver) Name() string { return "rod" }

func (d *RodDriver) Launch(ctx context.Context, opts SessionOptions) (Session, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("driver", d.Name()))
	logger.Debug("launching browser", slog.String("user-agent", opts.UserAgent))

	w, h := opts.Viewport.Width, opts.Viewport.Height
	if w == 0 || h == 0 {
		w, h = 1920, 1080
	}
	l := launcher.New().Headless(d.Headless).Set("window-size", fmt.Sprintf("%d,%d", w, h))
	if d.BrowserPath != "" {
		l = l.Bin(d.BrowserPath)
	}
	// the browser lives until Close, independent of the launch context
	controlURL, err := l.Context(context.WithoutCancel(ctx)).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}
	s := &rodSession{launcher: l, navTimeout: d.NavigationTimeout, logger: logger}

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.page = page
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: w, Height: h, DeviceScaleFactor: 1}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to enable network events: %w", err)
	}
	if log.Debug {
		if v, err := (proto.BrowserGetVersion{}).Call(s.browser); err == nil {
			logger.Debug(fmt.Sprintf("chrome version: product=%s, revision=%s", v.Product, v.Revision))
		}
	}
	return s, nil
}

type rodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	logger     *slog.Logger
	tokens     atomic.Int64
	closeOnce  sync.Once
	closeErr   error
}

func (s *rodSession) fail(ctx, c context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// eval runs the page function fn with args and decodes its value into res.
func (s *rodSession) eval(ctx context.Context, res any, fn string, args ...any) error {
	obj, err := s.page.Context(ctx).Eval(fn, args...)
	if err != nil {
		return err
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("navigating", slog.String("url", url))
	c, cancel := withTimeout(ctx, s.navTimeout)
	defer cancel()
	p := s.page.Context(c)

	var status int
	var statusText string
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status, statusText = e.Response.Status, e.Response.StatusText
		return true
	})
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	if err := p.Navigate(url); err != nil {
		return s.fail(ctx, c, err)
	}
	if err := p.WaitLoad(); err != nil {
		return s.fail(ctx, c, err)
	}
	grace := time.NewTimer(100 * time.Millisecond)
	defer grace.Stop()
	select {
	case <-done:
		if status != 0 && (status < 200 || status > 299) {
			return &StatusError{URL: url, StatusCode: status, Status: statusText}
		}
	case <-grace.C:
		// no document response seen, e.g. served from cache
	}
	return nil
}

func (s *rodSession) WaitFor(ctx context.Context, t Target, state State, timeout time.Duration) error {
	c, cancel := withTimeout(ctx, timeout)
	defer cancel()
	err := poll(c, func(c context.Context) (bool, error) {
		var ok bool
		err := s.eval(c, &ok, jsState, t.Selector, t.HasText, string(state))
		return ok, err
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *rodSession) IsVisible(ctx context.Context, t Target) (bool, error) {
	var ok bool
	if err := s.eval(ctx, &ok, jsState, t.Selector, t.HasText, string(StateVisible)); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *rodSession) Count(ctx context.Context, t Target) (int, error) {
	var n int
	if err := s.eval(ctx, &n, jsCount, t.Selector, t.HasText); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *rodSession) Attribute(ctx context.Context, t Target, name string) (Attribute, error) {
	var a Attribute
	if err := s.eval(ctx, &a, jsAttribute, t.Selector, t.HasText, name); err != nil {
		return Attribute{}, err
	}
	return a, nil
}

func (s *rodSession) Click(ctx context.Context, t Target, force bool, timeout time.Duration) error {
	c, cancel := withTimeout(ctx, timeout)
	defer cancel()
	token := fmt.Sprintf("t%d", s.tokens.Add(1))
	err := poll(c, func(c context.Context) (bool, error) {
		var ok bool
		err := s.eval(c, &ok, jsMark, t.Selector, t.HasText, token, !force)
		return ok, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if force {
		var ok bool
		if err := s.eval(c, &ok, jsForceClick, token); err != nil {
			return s.fail(ctx, c, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s detached before click", ErrNotFound, t)
		}
		return nil
	}
	el, err := s.page.Context(c).Element(markerSelector(token))
	if err != nil {
		return s.fail(ctx, c, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return s.fail(ctx, c, err)
	}
	return nil
}

func (s *rodSession) Focus(ctx context.Context, t Target) error {
	token := fmt.Sprintf("t%d", s.tokens.Add(1))
	var ok bool
	if err := s.eval(ctx, &ok, jsMark, t.Selector, t.HasText, token, false); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	if err := s.eval(ctx, &ok, jsFocus, token); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s did not receive focus", t)
	}
	return nil
}

func (s *rodSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			s.closeErr = s.browser.Close()
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.logger.Debug("browser closed")
	})
	return s.closeErr
}
