package cli

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/tableload/internal/core"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1   // internal or unclassified errors
	ExitUsage      = 2   // bad flags, arguments or request
	ExitConnection = 3   // target unreachable or credentials rejected
	ExitInput      = 4   // file missing, empty or with an unusable header
	ExitLoad       = 5   // table could not be prepared, loaded or committed
	ExitCancelled  = 130 // interrupted
)

// exitError carries an exit code. reported is set when the command already
// printed the failure.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitCodeForKind(core.KindOf(err))
}

func exitCodeForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindRequest:
		return ExitUsage
	case core.KindConnection:
		return ExitConnection
	case core.KindFileAccess, core.KindEmptyFile, core.KindIdentifier:
		return ExitInput
	case core.KindSchema, core.KindLoad, core.KindTransaction:
		return ExitLoad
	case core.KindCancelled:
		return ExitCancelled
	default:
		return ExitFailure
	}
}
