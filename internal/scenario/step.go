package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StepKind is the tag of a Step. It is also the key used for the step in
// scenario files.
type StepKind string

const (
	KindNavigate        StepKind = "navigate"
	KindWaitForSelector StepKind = "wait_for_selector"
	KindWaitForTimeout  StepKind = "wait_for_timeout"
	KindAssertVisible   StepKind = "assert_visible"
	KindAssertCount     StepKind = "assert_count"
	KindAssertAttribute StepKind = "assert_attribute"
	KindClick           StepKind = "click"
	KindFocus           StepKind = "focus"
	KindScreenshot      StepKind = "screenshot"
)

// Step is one atomic browser automation action. The concrete types below are
// the only implementations.
type Step interface {
	Kind() StepKind
	// Describe returns a short human readable description used in progress
	// lines and reports.
	Describe() string
}

// ElementState is the state a WaitForSelector step waits for.
type ElementState string

const (
	StateVisible  ElementState = "visible"
	StateAttached ElementState = "attached"
)

// Target locates an element. HasText optionally narrows the elements matched by
// Selector to the ones whose text contains HasText (case-insensitive).
type Target struct {
	Selector string `yaml:"selector"`
	HasText  string `yaml:"has_text,omitempty"`
}

func (t Target) String() string {
	if t.HasText == "" {
		return t.Selector
	}
	return fmt.Sprintf("%s (text %q)", t.Selector, t.HasText)
}

// Navigate loads Path relative to the scenario's base url. A non-2xx answer
// fails the step unless AllowHTTPErrors is set.
type Navigate struct {
	Path            string `yaml:"path"`
	AllowHTTPErrors bool   `yaml:"allow_http_errors,omitempty"`
}

func (s *Navigate) Kind() StepKind   { return KindNavigate }
func (s *Navigate) Describe() string { return fmt.Sprintf("navigate to %s", s.Path) }

type WaitForSelector struct {
	Target    `yaml:",inline"`
	State     ElementState `yaml:"state,omitempty"`
	TimeoutMS int          `yaml:"timeout,omitempty"`
}

func (s *WaitForSelector) Kind() StepKind { return KindWaitForSelector }
func (s *WaitForSelector) Describe() string {
	return fmt.Sprintf("wait for %s to be %s", s.Target, s.state())
}

func (s *WaitForSelector) state() ElementState {
	if s.State == "" {
		return StateVisible
	}
	return s.State
}

// EffectiveState returns the state to wait for, visible if unset.
func (s *WaitForSelector) EffectiveState() ElementState {
	return s.state()
}

// WaitForTimeout is a fixed sleep. It should only be used for effects that
// cannot be observed in the DOM, e.g. a fixed-length animation. Reports label
// these steps explicitly.
type WaitForTimeout struct {
	MS     int    `yaml:"ms"`
	Reason string `yaml:"reason,omitempty"`
}

func (s *WaitForTimeout) Kind() StepKind { return KindWaitForTimeout }
func (s *WaitForTimeout) Describe() string {
	d := fmt.Sprintf("fixed sleep %v", s.Duration())
	if s.Reason != "" {
		d += fmt.Sprintf(" (%s)", s.Reason)
	}
	return d
}

func (s *WaitForTimeout) Duration() time.Duration {
	return time.Duration(s.MS) * time.Millisecond
}

// AssertVisible checks that the target is visible. With a timeout the check is
// repeated until the element becomes visible or the timeout elapses.
type AssertVisible struct {
	Target    `yaml:",inline"`
	TimeoutMS int `yaml:"timeout,omitempty"`
}

func (s *AssertVisible) Kind() StepKind   { return KindAssertVisible }
func (s *AssertVisible) Describe() string { return fmt.Sprintf("assert %s is visible", s.Target) }

// AssertCount checks the number of elements matching the target. Max 0 means
// no upper bound.
type AssertCount struct {
	Target `yaml:",inline"`
	Min    int `yaml:"min,omitempty"`
	Max    int `yaml:"max,omitempty"`
}

func (s *AssertCount) Kind() StepKind { return KindAssertCount }
func (s *AssertCount) Describe() string {
	switch {
	case s.Max > 0:
		return fmt.Sprintf("assert %d-%d elements match %s", s.Min, s.Max, s.Target)
	default:
		return fmt.Sprintf("assert at least %d elements match %s", s.Min, s.Target)
	}
}

// AssertAttribute checks that the first element matching the target carries
// the attribute Name. If Equals is set the value has to match exactly.
type AssertAttribute struct {
	Target `yaml:",inline"`
	Name   string  `yaml:"name"`
	Equals *string `yaml:"equals,omitempty"`
}

func (s *AssertAttribute) Kind() StepKind { return KindAssertAttribute }
func (s *AssertAttribute) Describe() string {
	if s.Equals != nil {
		return fmt.Sprintf("assert %s has %s=%q", s.Target, s.Name, *s.Equals)
	}
	return fmt.Sprintf("assert %s has attribute %s", s.Target, s.Name)
}

// Click clicks the target. Force dispatches the click directly on the element
// and skips the actionability checks. Only use it when the scenario is known to
// race a CSS transition or an overlay that would intercept the click.
type Click struct {
	Target    `yaml:",inline"`
	Force     bool `yaml:"force,omitempty"`
	TimeoutMS int  `yaml:"timeout,omitempty"`
}

func (s *Click) Kind() StepKind { return KindClick }
func (s *Click) Describe() string {
	if s.Force {
		return fmt.Sprintf("click %s (forced)", s.Target)
	}
	return fmt.Sprintf("click %s", s.Target)
}

type Focus struct {
	Target `yaml:",inline"`
}

func (s *Focus) Kind() StepKind   { return KindFocus }
func (s *Focus) Describe() string { return fmt.Sprintf("focus %s", s.Target) }

type Screenshot struct {
	Path     string `yaml:"path"`
	FullPage bool   `yaml:"full_page,omitempty"`
}

func (s *Screenshot) Kind() StepKind { return KindScreenshot }
func (s *Screenshot) Describe() string {
	if s.FullPage {
		return fmt.Sprintf("capture full page to %s", s.Path)
	}
	return fmt.Sprintf("capture viewport to %s", s.Path)
}

var stepFactories = map[StepKind]func() Step{
	KindNavigate:        func() Step { return &Navigate{} },
	KindWaitForSelector: func() Step { return &WaitForSelector{} },
	KindWaitForTimeout:  func() Step { return &WaitForTimeout{} },
	KindAssertVisible:   func() Step { return &AssertVisible{} },
	KindAssertCount:     func() Step { return &AssertCount{} },
	KindAssertAttribute: func() Step { return &AssertAttribute{} },
	KindClick:           func() Step { return &Click{} },
	KindFocus:           func() Step { return &Focus{} },
	KindScreenshot:      func() Step { return &Screenshot{} },
}

// Steps is an ordered list of steps. In YAML every step is a mapping with
// exactly one key, the step kind, e.g.
//
//	steps:
//	  - navigate: /gallery
//	  - wait_for_selector: {selector: .gallery-card, timeout: 10000}
//	  - screenshot: {path: gallery.png, full_page: true}
type Steps []Step

func (s *Steps) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: steps must be a list", value.Line)
	}
	steps := make(Steps, 0, len(value.Content))
	for i, n := range value.Content {
		step, err := decodeStep(n)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*s = steps
	return nil
}

func (s Steps) MarshalYAML() (any, error) {
	out := make([]map[string]Step, 0, len(s))
	for _, step := range s {
		out = append(out, map[string]Step{string(step.Kind()): step})
	}
	return out, nil
}

func decodeStep(n *yaml.Node) (Step, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, fmt.Errorf("line %d: a step must be a mapping with exactly one key", n.Line)
	}
	kind := StepKind(n.Content[0].Value)
	body := n.Content[1]
	newStep, ok := stepFactories[kind]
	if !ok {
		return nil, fmt.Errorf("line %d: unknown step type '%s'", n.Line, kind)
	}
	step := newStep()
	if body.Kind == yaml.ScalarNode {
		if err := setScalar(step, body.Value); err != nil {
			return nil, fmt.Errorf("line %d: %w", body.Line, err)
		}
		return step, nil
	}
	if err := body.Decode(step); err != nil {
		return nil, err
	}
	return step, nil
}

// setScalar implements the short form of a step, e.g. `navigate: /gallery`.
func setScalar(step Step, v string) error {
	v = strings.TrimSpace(v)
	switch s := step.(type) {
	case *Navigate:
		s.Path = v
	case *WaitForSelector:
		s.Selector = v
	case *WaitForTimeout:
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("wait_for_timeout expects milliseconds, got '%s'", v)
		}
		s.MS = ms
	case *AssertVisible:
		s.Selector = v
	case *Click:
		s.Selector = v
	case *Focus:
		s.Selector = v
	case *Screenshot:
		s.Path = v
	default:
		return fmt.Errorf("step type '%s' has no short form", step.Kind())
	}
	return nil
}
