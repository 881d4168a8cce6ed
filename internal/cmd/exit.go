package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
)

// Process exit codes. Codes shared with other fulmen tools come from foundry.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitJobFailed       = 2
	ExitInvalidArgument = foundry.ExitInvalidArgument
	ExitUnavailable     = foundry.ExitExternalServiceUnavailable
	ExitConfigError     = 78
	ExitSignalInt       = foundry.ExitSignalInt
)

// ExitError carries an exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}
