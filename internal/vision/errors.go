package vision

import (
	"errors"
	"fmt"

	"northstar/api/internal/store"
)

// ErrNoAnalysis means a rewrite was requested for a session that has never
// completed an analysis.
var ErrNoAnalysis = errors.New("no analysis exists for session")

// ErrUnknownMode means the rewrite mode is not one of shorter, more_options,
// shorter_term.
var ErrUnknownMode = errors.New("unknown rewrite mode")

// IncompleteError is the validation failure raised when analysis is
// requested before all ten answers exist. The remote service is never
// invoked in this case.
type IncompleteError struct {
	Have int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("analysis requires %d answers, have %d", store.QuestionCount, e.Have)
}

// TerminalError is a generation failure that retrying will not fix: the
// attempt budget ran out, or the service returned text with no parseable
// payload. No analysis row exists when this is returned.
type TerminalError struct {
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("analysis failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}
