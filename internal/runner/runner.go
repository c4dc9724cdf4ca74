// Package runner executes verification scenarios in browser sessions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/jakopako/goverify/internal/types"
)

// Observer is notified about the progress of runs. Observers of a Pool are
// called from several goroutines.
type Observer interface {
	ScenarioStarted(scenario, runID string)
	StepFinished(scenario string, o types.StepOutcome)
	ScenarioFinished(r types.Result)
}

type noopObserver struct{}

func (noopObserver) ScenarioStarted(string, string)         {}
func (noopObserver) StepFinished(string, types.StepOutcome) {}
func (noopObserver) ScenarioFinished(types.Result)          {}

// Options configure a Runner. Scenario settings take precedence over BaseURL,
// UserAgent, Viewport and FailFast.
type Options struct {
	BaseURL   string
	UserAgent string
	Viewport  scenario.Viewport
	FailFast  bool
	// DefaultTimeout bounds steps without an explicit timeout.
	DefaultTimeout time.Duration
	// WaitForServer enables probing the base url before the browser is
	// launched. Zero disables the probe.
	WaitForServer time.Duration
	Artifacts     artifact.Store
	// PlainScreenshots disables the failure banner on screenshots taken after
	// a failed step.
	PlainScreenshots bool
	Observer         Observer
}

// OptionsFromConfig derives runner options from the global configuration.
func OptionsFromConfig(g *scenario.GlobalConfig) Options {
	return Options{
		BaseURL:          g.BaseURL,
		UserAgent:        g.UserAgent,
		Viewport:         g.Viewport,
		FailFast:         g.FailFast,
		DefaultTimeout:   time.Duration(g.DefaultTimeoutMS) * time.Millisecond,
		WaitForServer:    time.Duration(g.WaitForServerMS) * time.Millisecond,
		Artifacts:        artifact.Store{Dir: g.ArtifactsDir, Unique: g.UniqueArtifacts},
		PlainScreenshots: g.PlainScreenshots,
	}
}

// A Runner runs scenarios one session at a time. It is safe for concurrent
// use, every Run acquires its own session.
type Runner struct {
	driver browser.Driver
	opts   Options
	// global holds the settings scenarios can override
	global scenario.GlobalConfig
}

func New(driver browser.Driver, opts Options) *Runner {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 30 * time.Second // default
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Runner{
		driver: driver,
		opts:   opts,
		global: scenario.GlobalConfig{
			BaseURL:   opts.BaseURL,
			UserAgent: opts.UserAgent,
			Viewport:  opts.Viewport,
			FailFast:  opts.FailFast,
		},
	}
}

// run is the state of a single scenario run.
type run struct {
	id       string
	scenario *scenario.Scenario
	baseURL  string
	session  browser.Session
	logger   *slog.Logger
	failures []string
}

// Run executes the steps of sc in order in a fresh browser session and
// returns the result. Step failures are recorded in the result. The returned
// error is only non-nil if no session could be acquired. The session is
// closed before Run returns.
func (r *Runner) Run(ctx context.Context, sc scenario.Scenario) (types.Result, error) {
	ru := &run{
		id:       uuid.NewString(),
		scenario: &sc,
		baseURL:  sc.EffectiveBaseURL(&r.global),
	}
	ru.logger = log.LoggerFromContext(ctx).With(slog.String("scenario", sc.Name), slog.String("run", artifact.ShortID(ru.id)))
	ctx = log.ContextWithLogger(ctx, ru.logger)

	result := types.Result{
		RunID:     ru.id,
		Scenario:  sc.Name,
		BaseURL:   ru.baseURL,
		Driver:    r.driver.Name(),
		Status:    types.StatusFailed,
		Steps:     make([]types.StepOutcome, 0, len(sc.Steps)),
		Artifacts: []string{},
		StartedAt: time.Now(),
	}

	if r.opts.WaitForServer > 0 {
		if err := waitForServer(ctx, ru.baseURL, r.opts.WaitForServer); err != nil {
			result.FinishedAt = time.Now()
			return result, err
		}
	}

	session, err := r.driver.Launch(ctx, r.sessionOptions(&sc))
	if err != nil {
		result.FinishedAt = time.Now()
		return result, fmt.Errorf("failed to acquire a browser session for scenario %s: %w", sc.Name, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			ru.logger.Warn(fmt.Sprintf("failed to close browser session: %v", err))
		}
	}()
	ru.session = session

	ru.logger.Info("starting scenario", slog.String("base-url", ru.baseURL), slog.String("driver", r.driver.Name()))
	r.opts.Observer.ScenarioStarted(sc.Name, ru.id)

	failFast := sc.EffectiveFailFast(&r.global)
	for i, step := range sc.Steps {
		var outcome types.StepOutcome
		switch {
		case ctx.Err() != nil:
			outcome = skipped(i, step, "run cancelled")
		case failFast && len(ru.failures) > 0 && step.Kind() != scenario.KindScreenshot:
			outcome = skipped(i, step, "skipped after failure")
		default:
			outcome = r.runStep(ctx, ru, i, step)
		}
		if outcome.Status == types.StatusFailed {
			ru.failures = append(ru.failures, fmt.Sprintf("step %d (%s): %s: %s", i, outcome.Kind, outcome.ErrorKind, outcome.Message))
		}
		if outcome.Artifact != "" {
			result.Artifacts = append(result.Artifacts, outcome.Artifact)
		}
		result.Steps = append(result.Steps, outcome)
		r.opts.Observer.StepFinished(sc.Name, outcome)
	}

	if len(ru.failures) == 0 && ctx.Err() == nil {
		result.Status = types.StatusPassed
	}
	result.FinishedAt = time.Now()
	ru.logger.Info(fmt.Sprintf("scenario %s", result.Status), slog.Int("failed-steps", len(ru.failures)))
	r.opts.Observer.ScenarioFinished(result)
	return result, nil
}

func (r *Runner) sessionOptions(sc *scenario.Scenario) browser.SessionOptions {
	vp := sc.EffectiveViewport(&r.global)
	return browser.SessionOptions{
		UserAgent: sc.EffectiveUserAgent(&r.global),
		Viewport:  browser.Viewport{Width: vp.Width, Height: vp.Height},
	}
}

func skipped(i int, step scenario.Step, msg string) types.StepOutcome {
	return types.StepOutcome{
		Index:       i,
		Kind:        string(step.Kind()),
		Description: step.Describe(),
		Status:      types.StatusSkipped,
		Message:     msg,
	}
}

// runStep executes a single step and converts its error or panic into the
// outcome.
func (r *Runner) runStep(ctx context.Context, ru *run, i int, step scenario.Step) (outcome types.StepOutcome) {
	start := time.Now()
	outcome = types.StepOutcome{
		Index:       i,
		Kind:        string(step.Kind()),
		Description: step.Describe(),
		Status:      types.StatusPassed,
	}
	fail := func(err *StepError) {
		err.Index, err.Step = i, step.Kind()
		outcome.Status = types.StatusFailed
		outcome.ErrorKind = err.Kind
		outcome.Message = err.Message
		ru.logger.Warn(err.Error())
	}
	defer func() {
		if p := recover(); p != nil {
			ru.logger.Error(fmt.Sprintf("step %d panicked: %v\n%s", i, p, debug.Stack()))
			fail(&StepError{Kind: types.Panic, Message: fmt.Sprintf("step panicked: %v", p)})
		}
		outcome.Duration = time.Since(start)
	}()

	ru.logger.Debug(fmt.Sprintf("running step %d: %s", i, step.Describe()))
	path, err := r.execute(ctx, ru, step)
	outcome.Artifact = path
	if err != nil {
		if ctx.Err() != nil {
			err = stepError(types.Aborted, err.Selector, ctx.Err(), "run cancelled during %s", step.Kind())
		}
		fail(err)
	}
	return outcome
}

func (r *Runner) timeout(ms int) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return r.opts.DefaultTimeout
}

func target(t scenario.Target) browser.Target {
	return browser.Target{Selector: t.Selector, HasText: t.HasText}
}

// resolveURL joins the base url and a step path. Absolute urls are kept.
func resolveURL(baseURL, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// execute runs step in the session of ru. It returns the artifact path of
// screenshot steps.
func (r *Runner) execute(ctx context.Context, ru *run, step scenario.Step) (string, *StepError) {
	switch s := step.(type) {
	case *scenario.Navigate:
		return "", r.navigate(ctx, ru, s)
	case *scenario.WaitForSelector:
		t := target(s.Target)
		timeout := r.timeout(s.TimeoutMS)
		if err := ru.session.WaitFor(ctx, t, browser.State(s.EffectiveState()), timeout); err != nil {
			if errors.Is(err, browser.ErrTimeout) {
				return "", stepError(types.WaitTimeout, s.Selector, err, "selector %s not %s within %v", t, s.EffectiveState(), timeout)
			}
			return "", stepError(types.WaitTimeout, s.Selector, err, "waiting for selector %s failed", t)
		}
		return "", nil
	case *scenario.WaitForTimeout:
		timer := time.NewTimer(s.Duration())
		defer timer.Stop()
		select {
		case <-timer.C:
			return "", nil
		case <-ctx.Done():
			return "", stepError(types.Aborted, "", ctx.Err(), "fixed sleep interrupted")
		}
	case *scenario.AssertVisible:
		return "", r.assertVisible(ctx, ru, s)
	case *scenario.AssertCount:
		return "", r.assertCount(ctx, ru, s)
	case *scenario.AssertAttribute:
		return "", r.assertAttribute(ctx, ru, s)
	case *scenario.Click:
		t := target(s.Target)
		timeout := r.timeout(s.TimeoutMS)
		if err := ru.session.Click(ctx, t, s.Force, timeout); err != nil {
			if errors.Is(err, browser.ErrTimeout) {
				return "", stepError(types.WaitTimeout, s.Selector, err, "%s not clickable within %v", t, timeout)
			}
			return "", stepError(types.ActionFailed, s.Selector, err, "click on %s failed", t)
		}
		return "", nil
	case *scenario.Focus:
		c, cancel := context.WithTimeout(ctx, r.opts.DefaultTimeout)
		defer cancel()
		if err := ru.session.Focus(c, target(s.Target)); err != nil {
			return "", stepError(types.ActionFailed, s.Selector, err, "focus on %s failed", s.Target)
		}
		return "", nil
	case *scenario.Screenshot:
		return r.screenshot(ctx, ru, s)
	default:
		return "", &StepError{Kind: types.ActionFailed, Message: fmt.Sprintf("step type %T not supported", step)}
	}
}

func (r *Runner) navigate(ctx context.Context, ru *run, s *scenario.Navigate) *StepError {
	u := resolveURL(ru.baseURL, s.Path)
	err := ru.session.Navigate(ctx, u)
	if err == nil {
		return nil
	}
	var statusErr *browser.StatusError
	if errors.As(err, &statusErr) {
		if s.AllowHTTPErrors {
			ru.logger.Info(fmt.Sprintf("%s answered with status %d, allowed", u, statusErr.StatusCode))
			return nil
		}
		return &StepError{Kind: types.NavigationFailed, Message: fmt.Sprintf("%s answered with status %d", u, statusErr.StatusCode), Err: err}
	}
	if errors.Is(err, browser.ErrTimeout) {
		return stepError(types.NavigationFailed, "", err, "%s did not load in time", u)
	}
	return stepError(types.NavigationFailed, "", err, "%s unreachable", u)
}

func (r *Runner) assertVisible(ctx context.Context, ru *run, s *scenario.AssertVisible) *StepError {
	t := target(s.Target)
	if s.TimeoutMS > 0 {
		timeout := time.Duration(s.TimeoutMS) * time.Millisecond
		if err := ru.session.WaitFor(ctx, t, browser.StateVisible, timeout); err != nil {
			return stepError(types.AssertionFailed, s.Selector, err, "expected %s to be visible within %v", t, timeout)
		}
		return nil
	}
	c, cancel := context.WithTimeout(ctx, r.opts.DefaultTimeout)
	defer cancel()
	visible, err := ru.session.IsVisible(c, t)
	if err != nil {
		return stepError(types.AssertionFailed, s.Selector, err, "expected %s to be visible", t)
	}
	if !visible {
		return stepError(types.AssertionFailed, s.Selector, nil, "expected %s to be visible", t)
	}
	return nil
}

func (r *Runner) assertCount(ctx context.Context, ru *run, s *scenario.AssertCount) *StepError {
	t := target(s.Target)
	c, cancel := context.WithTimeout(ctx, r.opts.DefaultTimeout)
	defer cancel()
	n, err := ru.session.Count(c, t)
	if err != nil {
		return stepError(types.AssertionFailed, s.Selector, err, "counting %s failed", t)
	}
	if n < s.Min || (s.Max > 0 && n > s.Max) {
		if s.Max > 0 {
			return stepError(types.AssertionFailed, s.Selector, nil, "expected %d to %d elements matching %s, found %d", s.Min, s.Max, t, n)
		}
		return stepError(types.AssertionFailed, s.Selector, nil, "expected at least %d elements matching %s, found %d", s.Min, t, n)
	}
	return nil
}

func (r *Runner) assertAttribute(ctx context.Context, ru *run, s *scenario.AssertAttribute) *StepError {
	t := target(s.Target)
	c, cancel := context.WithTimeout(ctx, r.opts.DefaultTimeout)
	defer cancel()
	a, err := ru.session.Attribute(c, t, s.Name)
	switch {
	case err != nil:
		return stepError(types.AssertionFailed, s.Selector, err, "reading attribute %s of %s failed", s.Name, t)
	case !a.Found:
		return stepError(types.AssertionFailed, s.Selector, nil, "expected an element matching %s", t)
	case !a.Present:
		return stepError(types.AssertionFailed, s.Selector, nil, "expected %s to have attribute %s", t, s.Name)
	case s.Equals != nil && a.Value != *s.Equals:
		return stepError(types.AssertionFailed, s.Selector, nil, "expected %s=%q on %s, got %q", s.Name, *s.Equals, t, a.Value)
	}
	return nil
}

// screenshot captures the page. After failed steps the failures are drawn on
// the image unless plain screenshots are configured.
func (r *Runner) screenshot(ctx context.Context, ru *run, s *scenario.Screenshot) (string, *StepError) {
	c, cancel := context.WithTimeout(ctx, r.opts.DefaultTimeout)
	defer cancel()
	data, err := ru.session.Screenshot(c, s.FullPage)
	if err != nil {
		return "", stepError(types.CaptureFailed, "", err, "capturing %s failed", s.Path)
	}
	if len(ru.failures) > 0 && !r.opts.PlainScreenshots {
		annotated, err := artifact.Annotate(data, ru.failures)
		if err != nil {
			ru.logger.Warn(fmt.Sprintf("failed to annotate screenshot: %v", err))
		} else {
			data = annotated
		}
	}
	path := r.opts.Artifacts.Resolve(s.Path, ru.id)
	if err := r.opts.Artifacts.Write(path, data); err != nil {
		return "", stepError(types.CaptureFailed, "", err, "writing %s failed", path)
	}
	ru.logger.Debug(fmt.Sprintf("wrote screenshot to %s", path))
	return path, nil
}
