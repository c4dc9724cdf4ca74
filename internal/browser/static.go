package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/log"
)

// The StaticDriver fetches pages over plain http and evaluates selectors on the
// served html. It does not run javascript, so it only suits server rendered
// pages and smoke checks. Screenshots are text renderings of the page.
type StaticDriver struct {
	Config
	client *http.Client
}

func NewStaticDriver(cfg Config) *StaticDriver {
	return &StaticDriver{
		Config: cfg,
		client: &http.Client{},
	}
}

func (d *StaticDriver) Name() string { return "static" }

func (d *StaticDriver) Launch(ctx context.Context, opts SessionOptions) (Session, error) {
	w, h := opts.Viewport.Width, opts.Viewport.Height
	if w == 0 || h == 0 {
		w, h = 1920, 1080
	}
	return &staticSession{
		client:     d.client,
		userAgent:  opts.UserAgent,
		viewport:   Viewport{Width: w, Height: h},
		navTimeout: d.NavigationTimeout,
		logger:     log.LoggerFromContext(ctx).With(slog.String("driver", d.Name())),
	}, nil
}

type staticSession struct {
	client     *http.Client
	userAgent  string
	viewport   Viewport
	navTimeout time.Duration
	logger     *slog.Logger

	url    *url.URL
	status string
	doc    *goquery.Document
	lines  []string // rendered text of the page

	closeOnce sync.Once
	closed    bool
}

func (s *staticSession) Navigate(ctx context.Context, urlStr string) error {
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.logger.Debug("fetching page", slog.String("url", urlStr), slog.String("user-agent", s.userAgent))
	// a failed navigation leaves no page loaded
	s.url, s.status, s.doc, s.lines = nil, "", nil, nil
	c, cancel := withTimeout(ctx, s.navTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(c, "GET", urlStr, nil)
	if err != nil {
		return err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "*/*")
	res, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	textDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	s.url = res.Request.URL
	s.status = res.Status
	s.doc = doc
	s.lines = pageLines(urlStr, res.Status, textDoc)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{URL: urlStr, StatusCode: res.StatusCode, Status: http.StatusText(res.StatusCode)}
	}
	return nil
}

// pageLines renders the visible text of doc line by line.
func pageLines(urlStr, status string, doc *goquery.Document) []string {
	lines := []string{fmt.Sprintf("GET %s -> %s", urlStr, status)}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		lines = append(lines, title)
	}
	lines = append(lines, "")
	doc.Find("script, style, noscript, template, [hidden]").Remove()
	for _, l := range strings.Split(doc.Find("body").Text(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func (s *staticSession) locate(t Target) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	sel := s.doc.Find(t.Selector)
	if t.HasText != "" {
		text := strings.ToLower(t.HasText)
		sel = sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
			return strings.Contains(strings.ToLower(el.Text()), text)
		})
	}
	return sel, nil
}

// isVisible approximates visibility from markup: the element and none of its
// ancestors may be hidden through attributes or inline styles.
func isVisible(el *goquery.Selection) bool {
	for n := el; n.Length() > 0; n = n.Parent() {
		switch goquery.NodeName(n) {
		case "head", "script", "style", "template", "noscript", "title":
			return false
		case "input":
			if strings.EqualFold(n.AttrOr("type", ""), "hidden") {
				return false
			}
		}
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (s *staticSession) firstMatch(t Target, requireVisible bool) (*goquery.Selection, error) {
	sel, err := s.locate(t)
	if err != nil {
		return nil, err
	}
	if requireVisible {
		sel = sel.FilterFunction(func(_ int, el *goquery.Selection) bool { return isVisible(el) })
	}
	if sel.Length() == 0 {
		return nil, nil
	}
	return sel.First(), nil
}

func (s *staticSession) WaitFor(ctx context.Context, t Target, state State, timeout time.Duration) error {
	c, cancel := withTimeout(ctx, timeout)
	defer cancel()
	err := poll(c, func(context.Context) (bool, error) {
		el, err := s.firstMatch(t, state != StateAttached)
		return el != nil, err
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *staticSession) IsVisible(ctx context.Context, t Target) (bool, error) {
	el, err := s.firstMatch(t, true)
	return el != nil, err
}

func (s *staticSession) Count(ctx context.Context, t Target) (int, error) {
	sel, err := s.locate(t)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

func (s *staticSession) Attribute(ctx context.Context, t Target, name string) (Attribute, error) {
	el, err := s.firstMatch(t, false)
	if err != nil || el == nil {
		return Attribute{}, err
	}
	v, ok := el.Attr(name)
	return Attribute{Found: true, Present: ok, Value: v}, nil
}

// Click follows links. Clicks on other elements have no effect without
// javascript and only check that the element is there.
func (s *staticSession) Click(ctx context.Context, t Target, force bool, timeout time.Duration) error {
	c, cancel := withTimeout(ctx, timeout)
	defer cancel()
	var el *goquery.Selection
	err := poll(c, func(context.Context) (bool, error) {
		var err error
		el, err = s.firstMatch(t, !force)
		return el != nil, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	link := el.Closest("a[href]")
	if link.Length() == 0 {
		s.logger.Debug(fmt.Sprintf("click on %s has no effect without javascript", t))
		return nil
	}
	href, err := s.url.Parse(link.AttrOr("href", ""))
	if err != nil {
		return fmt.Errorf("invalid link target: %w", err)
	}
	return s.Navigate(ctx, href.String())
}

func (s *staticSession) Focus(ctx context.Context, t Target) error {
	el, err := s.firstMatch(t, false)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	return nil
}

const staticLineHeight = 16

func (s *staticSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	lines := s.lines
	height := s.viewport.Height
	if fullPage {
		height = 0
	} else if fit := height/staticLineHeight - 1; len(lines) > fit && fit > 0 {
		lines = lines[:fit]
	}
	return artifact.RenderText(lines, s.viewport.Width, height)
}

func (s *staticSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.doc = nil
	})
	return nil
}
