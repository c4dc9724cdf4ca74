package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/types"
	"github.com/jakopako/goverify/internal/utils"
)

// Progress prints one human readable line per finished step. It is safe for
// use by parallel runs.
type Progress struct {
	out     io.Writer
	noColor bool
	mu      sync.Mutex
}

func NewProgress(out io.Writer, noColor bool) *Progress {
	return &Progress{out: out, noColor: noColor}
}

func (p *Progress) colored(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	}
	return c
}

func (p *Progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *Progress) ScenarioStarted(scenario, runID string) {
	p.printf("%s %s (run %s)\n", p.colored(color.Bold).Sprint("==>"), scenario, artifact.ShortID(runID))
}

func (p *Progress) StepFinished(scenario string, o types.StepOutcome) {
	var mark string
	switch o.Status {
	case types.StatusPassed:
		mark = p.colored(color.FgGreen).Sprint("PASS")
	case types.StatusFailed:
		mark = p.colored(color.FgHiRed).Sprint("FAIL")
	default:
		mark = p.colored(color.FgYellow).Sprint("SKIP")
	}
	line := fmt.Sprintf("  %s [%s] %d %s (%s)", mark, scenario, o.Index, o.Description, o.Duration.Round(time.Millisecond))
	if o.Artifact != "" {
		line += fmt.Sprintf(" -> %s", o.Artifact)
	}
	if o.Status == types.StatusFailed {
		line += fmt.Sprintf("\n       %s: %s", o.ErrorKind, utils.ShortenString(o.Message, 300))
	}
	p.printf("%s\n", line)
}

func (p *Progress) ScenarioFinished(r types.Result) {
	status := p.colored(color.FgGreen).Sprint("passed")
	if !r.Passed() {
		status = p.colored(color.FgHiRed).Sprint("failed")
	}
	p.printf("%s %s %s in %s\n", p.colored(color.Bold).Sprint("<=="), r.Scenario, status, r.Duration().Round(time.Millisecond))
}
