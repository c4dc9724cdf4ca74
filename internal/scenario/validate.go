package scenario

import (
	"fmt"
	"net/url"

	"github.com/andybalholm/cascadia"
	"github.com/hashicorp/go-multierror"
)

// KnownDrivers lists the driver names accepted in the global config.
var KnownDrivers = []string{"chromedp", "rod", "static"}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validateBaseURL(c.Global.BaseURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("global: %w", err))
	}
	if !isKnownDriver(c.Global.Driver) {
		result = multierror.Append(result, fmt.Errorf("global: unknown driver '%s'", c.Global.Driver))
	}
	if c.Global.DefaultTimeoutMS < 0 || c.Global.NavigationTimeoutMS < 0 || c.Global.WaitForServerMS < 0 {
		result = multierror.Append(result, fmt.Errorf("global: timeouts must not be negative"))
	}

	seen := map[string]bool{}
	for i := range c.Scenarios {
		s := &c.Scenarios[i]
		if s.Name != "" {
			if seen[s.Name] {
				result = multierror.Append(result, fmt.Errorf("scenario '%s' is defined more than once", s.Name))
			}
			seen[s.Name] = true
		}
		if err := s.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Validate checks a single scenario.
func (s *Scenario) Validate() error {
	var result *multierror.Error
	name := s.Name
	if name == "" {
		name = "<unnamed>"
		result = multierror.Append(result, fmt.Errorf("scenario %s: name must not be empty", name))
	}
	if s.BaseURL != "" {
		if err := validateBaseURL(s.BaseURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("scenario %s: %w", name, err))
		}
	}
	if s.Viewport != nil && (s.Viewport.Width <= 0 || s.Viewport.Height <= 0) {
		result = multierror.Append(result, fmt.Errorf("scenario %s: viewport must have a positive width and height", name))
	}
	if len(s.Steps) == 0 {
		result = multierror.Append(result, fmt.Errorf("scenario %s: no steps defined", name))
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			result = multierror.Append(result, fmt.Errorf("scenario %s: step %d (%s): %w", name, i, step.Kind(), err))
		}
	}
	return result.ErrorOrNil()
}

func validateStep(step Step) error {
	switch st := step.(type) {
	case *Navigate:
		if st.Path == "" {
			return fmt.Errorf("path must not be empty")
		}
	case *WaitForSelector:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
		if st.State != "" && st.State != StateVisible && st.State != StateAttached {
			return fmt.Errorf("state must be '%s' or '%s', got '%s'", StateVisible, StateAttached, st.State)
		}
		if st.TimeoutMS < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
	case *WaitForTimeout:
		if st.MS <= 0 {
			return fmt.Errorf("ms must be positive")
		}
	case *AssertVisible:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
		if st.TimeoutMS < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
	case *AssertCount:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
		if st.Min < 0 || st.Max < 0 {
			return fmt.Errorf("min and max must not be negative")
		}
		if st.Max > 0 && st.Max < st.Min {
			return fmt.Errorf("max (%d) is lower than min (%d)", st.Max, st.Min)
		}
	case *AssertAttribute:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
		if st.Name == "" {
			return fmt.Errorf("attribute name must not be empty")
		}
	case *Click:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
		if st.TimeoutMS < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
	case *Focus:
		if err := validateSelector(st.Selector); err != nil {
			return err
		}
	case *Screenshot:
		if st.Path == "" {
			return fmt.Errorf("path must not be empty")
		}
	default:
		return fmt.Errorf("unsupported step type %T", step)
	}
	return nil
}

// validateSelector rejects selectors that no driver can resolve.
func validateSelector(sel string) error {
	if sel == "" {
		return fmt.Errorf("selector must not be empty")
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("invalid selector '%s': %w", sel, err)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url '%s': %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base url '%s' must be an absolute http(s) url", raw)
	}
	return nil
}

func isKnownDriver(name string) bool {
	for _, d := range KnownDrivers {
		if d == name {
			return true
		}
	}
	return false
}
