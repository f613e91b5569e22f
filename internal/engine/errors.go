package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/script"
)

// Step failure categories. Device failures use the platform sentinels.
var (
	ErrActionFailed        = errors.New("action failed")
	ErrMatchNotFound       = errors.New("no matching element")
	ErrVerificationTimeout = errors.New("verification timed out")
	ErrCancelled           = errors.New("run cancelled")
	ErrOverallTimeout      = errors.New("overall script timeout exceeded")
)

// errInvalidStep marks failures retrying cannot fix.
var errInvalidStep = errors.New("invalid step")

// StepError carries the step a failure happened in.
type StepError struct {
	StepID string
	Kind   script.StepType
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s): %v", e.StepID, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// isFatal reports errors that end the whole run.
func isFatal(err error) bool {
	return errors.Is(err, platform.ErrDeviceUnreachable)
}

// isPermanent reports errors that stop retrying at once.
func isPermanent(err error) bool {
	return isFatal(err) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, errInvalidStep) ||
		errors.Is(err, context.Canceled)
}

// recoverable reports whether fallback actions may be tried for err on a
// step of the given kind.
func recoverable(kind script.StepType, err error) bool {
	switch kind {
	case script.StepSmartTap, script.StepSmartFindElement, script.StepSmartNavigation, script.StepExtractElement:
		return errors.Is(err, ErrMatchNotFound)
	case script.StepVerifyAction, script.StepWaitForPageState, script.StepRecognizePage:
		return errors.Is(err, ErrVerificationTimeout)
	}
	return false
}
