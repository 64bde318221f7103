// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package combiner // import "go.opentelemetry.io/vmtrace/combiner"

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/tracepb"
)

// checkInput rejects paths that do not name a non-empty regular file.
func checkInput(kind, path string) error {
	if path == "" {
		return fmt.Errorf("%w: no %s trace file given", ErrInvalidArgument, kind)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s trace file %s: %v", ErrInvalidArgument, kind, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s trace file %s is not a regular file", ErrInvalidArgument,
			kind, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s trace file %s is empty", ErrInvalidArgument, kind, path)
	}
	return nil
}

// ReadInput validates and reads a trace file.
func ReadInput(kind, path string) ([]byte, error) {
	if err := checkInput(kind, path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and renames it
// over path. On failure path is left untouched.
func WriteFileAtomic(path string, data []byte) (err error) {
	if path == "" {
		return fmt.Errorf("%w: no output file given", ErrInvalidArgument)
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	temp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = temp.Close()
			_ = os.Remove(temp.Name())
		}
	}()

	if _, err = temp.Write(data); err != nil {
		return &IOError{Op: "write", Path: temp.Name(), Err: err}
	}
	if err = temp.Sync(); err != nil {
		return &IOError{Op: "write", Path: temp.Name(), Err: err}
	}
	if err = temp.Close(); err != nil {
		return &IOError{Op: "write", Path: temp.Name(), Err: err}
	}
	if err = os.Rename(temp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// CombineFiles loads the guest and host trace files, combines them and atomically writes the
// result to outPath. Nothing is written if any step fails.
func CombineFiles(guestPath, hostPath, outPath string, opts Options) (*Result, error) {
	if outPath == "" {
		return nil, fmt.Errorf("%w: no combined trace file given", ErrInvalidArgument)
	}
	guest, err := ReadInput("guest", guestPath)
	if err != nil {
		return nil, err
	}
	host, err := ReadInput("host", hostPath)
	if err != nil {
		return nil, err
	}

	res, err := Combine(guest, host, opts)
	if err != nil {
		return nil, err
	}

	data := res.Data
	if opts.Compress {
		if data, err = tracepb.Compress(data); err != nil {
			return nil, &IOError{Op: "write", Path: outPath, Err: err}
		}
	}
	if err = WriteFileAtomic(outPath, data); err != nil {
		return nil, err
	}
	log.Infof("Wrote combined trace %s (%d bytes, offset %dns via %s)", outPath, len(data),
		res.OffsetNs, res.Strategy)
	return res, nil
}
