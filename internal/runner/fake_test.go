package runner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakopako/goverify/internal/browser"
)

// fakeDriver hands out fakeSessions describing a fixed page.
type fakeDriver struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	launchErr error
	// page is copied into every new session
	page fakePage
}

type fakePage struct {
	// elements maps selectors to the number of visible matches
	elements map[string]int
	attrs    map[string]map[string]string
	status   map[string]int
	panicOn  string
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Launch(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	s := &fakeSession{opts: opts, page: d.page}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDriver) allSessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession{}, d.sessions...)
}

type fakeSession struct {
	opts      browser.SessionOptions
	page      fakePage
	navigated []string
	closes    atomic.Int32
}

func (s *fakeSession) maybePanic(op string) {
	if s.page.panicOn == op {
		panic("boom in " + op)
	}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.maybePanic("navigate")
	s.navigated = append(s.navigated, url)
	if code, ok := s.page.status[url]; ok {
		return &browser.StatusError{URL: url, StatusCode: code}
	}
	return nil
}

func (s *fakeSession) WaitFor(ctx context.Context, t browser.Target, state browser.State, timeout time.Duration) error {
	s.maybePanic("wait")
	if s.page.elements[t.Selector] > 0 {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return browser.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSession) IsVisible(ctx context.Context, t browser.Target) (bool, error) {
	s.maybePanic("visible")
	return s.page.elements[t.Selector] > 0, nil
}

func (s *fakeSession) Count(ctx context.Context, t browser.Target) (int, error) {
	s.maybePanic("count")
	return s.page.elements[t.Selector], nil
}

func (s *fakeSession) Attribute(ctx context.Context, t browser.Target, name string) (browser.Attribute, error) {
	if s.page.elements[t.Selector] == 0 {
		return browser.Attribute{}, nil
	}
	v, ok := s.page.attrs[t.Selector][name]
	return browser.Attribute{Found: true, Present: ok, Value: v}, nil
}

func (s *fakeSession) Click(ctx context.Context, t browser.Target, force bool, timeout time.Duration) error {
	s.maybePanic("click")
	if s.page.elements[t.Selector] == 0 {
		return browser.ErrTimeout
	}
	return nil
}

func (s *fakeSession) Focus(ctx context.Context, t browser.Target) error {
	if s.page.elements[t.Selector] == 0 {
		return browser.ErrNotFound
	}
	return nil
}

func (s *fakeSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	s.maybePanic("screenshot")
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

var errNoChrome = errors.New("chrome not found")
