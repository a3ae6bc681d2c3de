package browser

import (
	"errors"
	"fmt"

	"github.com/probekit/webprobe/internal/engine"
)

// Kind tags a tool-level failure so callers can react without parsing
// messages.
type Kind string

const (
	KindNotLaunched      Kind = "NotLaunchedError"
	KindAlreadyLaunched  Kind = "AlreadyLaunchedError"
	KindInvalidArgument  Kind = "InvalidArgumentError"
	KindSelectorNotFound Kind = "SelectorNotFoundError"
	KindTimeout          Kind = "TimeoutError"
	KindScriptEvaluation Kind = "ScriptEvaluationError"
	KindEngine           Kind = "EngineError"
)

// Error is a classified failure. Every failure returned to the tool
// caller is one of these; anything unclassified becomes an EngineError.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrNotLaunched is returned by every interaction operation invoked
// before launch_browser.
func ErrNotLaunched() *Error {
	return NewError(KindNotLaunched, "browser not launched; call launch_browser first")
}

// Classify maps an arbitrary error onto the taxonomy. Already-classified
// errors pass through; engine sentinels map to their kinds; the rest is
// an EngineError.
func Classify(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, engine.ErrTimeout):
		return NewError(KindTimeout, "%s", err.Error())
	case errors.Is(err, engine.ErrSelectorNotFound):
		return NewError(KindSelectorNotFound, "%s", err.Error())
	case errors.Is(err, engine.ErrScript):
		return NewError(KindScriptEvaluation, "%s", err.Error())
	default:
		return NewError(KindEngine, "%s", err.Error())
	}
}
