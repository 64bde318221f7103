// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package combiner // import "go.opentelemetry.io/vmtrace/combiner"

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for missing, empty or non-regular input files and for
// inconsistent options.
var ErrInvalidArgument = errors.New("invalid argument")

// IOError reports a failed file operation.
type IOError struct {
	// Op is one of "read", "write" or "rename".
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
