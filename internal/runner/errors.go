package runner

import (
	"errors"
	"fmt"

	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/jakopako/goverify/internal/types"
	"github.com/jakopako/goverify/internal/utils"
)

// StepError is the failure of a single step. It is recorded in the Result and
// never aborts the run.
type StepError struct {
	Kind     types.ErrorKind
	Index    int
	Step     scenario.StepKind
	Selector string
	// Message is the human readable expectation that was not met.
	Message string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %s: %s", e.Index, e.Step, e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// stepError builds a StepError. The first line of a non-timeout cause is
// appended to the message.
func stepError(kind types.ErrorKind, selector string, err error, format string, args ...any) *StepError {
	msg := fmt.Sprintf(format, args...)
	if err != nil && !errors.Is(err, browser.ErrTimeout) {
		msg = fmt.Sprintf("%s: %s", msg, utils.FirstLine(err.Error()))
	}
	return &StepError{Kind: kind, Selector: selector, Message: msg, Err: err}
}
