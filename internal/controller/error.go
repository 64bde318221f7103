// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/vmtrace/internal/controller"

import (
	"errors"

	"go.opentelemetry.io/vmtrace/combiner"
	"go.opentelemetry.io/vmtrace/tracepb"
)

// Exit codes of the combine command.
const (
	ExitSuccess = 0
	// ExitFailure covers invalid arguments and unreadable input files.
	ExitFailure     = 1
	ExitDecodeError = 2
	ExitWriteError  = 3
)

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}

// NewErrorWithExitCode attaches the exit code matching err.
func NewErrorWithExitCode(err error) ErrorWithExitCode {
	return ErrorWithExitCode{error: err, code: exitCode(err)}
}

func exitCode(err error) int {
	var ioErr *combiner.IOError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, tracepb.ErrDecode):
		return ExitDecodeError
	case errors.As(err, &ioErr) && ioErr.Op != "read":
		return ExitWriteError
	default:
		return ExitFailure
	}
}
