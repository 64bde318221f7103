// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package times provides the boot clock and the intervals used by the host recorder.
package times // import "go.opentelemetry.io/vmtrace/times"

import (
	"time"

	"golang.org/x/sys/unix"
)

const (
	// GuestPollInterval is the default interval at which the size of the guest trace file
	// is polled after host tracing stopped.
	GuestPollInterval = 1 * time.Second
	// GuestMaxPolls is the default number of polls before the guest trace is given up on.
	GuestMaxPolls = 20
	// GuestStablePolls is the default number of consecutive polls with an unchanged,
	// non-zero size after which the guest trace file is considered complete.
	GuestStablePolls = 2
)

// Compile time check for interface adherence
var _ IntervalsAndTimers = (*Times)(nil)

// Times hold the intervals and limits of the asynchronous trace saver and come with
// Getters to read them.
type Times struct {
	guestPollInterval time.Duration
	guestMaxPolls     int
	guestStablePolls  int
}

// IntervalsAndTimers is a meta-interface that exists purely to document its functionality.
type IntervalsAndTimers interface {
	// GuestPollInterval defines the interval at which the guest trace file size is polled.
	GuestPollInterval() time.Duration
	// GuestMaxPolls defines how many polls are made before the combine is abandoned.
	GuestMaxPolls() int
	// GuestStablePolls defines how many consecutive unchanged sizes mark the guest trace
	// file as complete.
	GuestStablePolls() int
}

func (t *Times) GuestPollInterval() time.Duration { return t.guestPollInterval }

func (t *Times) GuestMaxPolls() int { return t.guestMaxPolls }

func (t *Times) GuestStablePolls() int { return t.guestStablePolls }

// New returns a new Times instance. Zero or negative arguments select the defaults.
func New(pollInterval time.Duration, maxPolls, stablePolls int) *Times {
	t := &Times{
		guestPollInterval: GuestPollInterval,
		guestMaxPolls:     GuestMaxPolls,
		guestStablePolls:  GuestStablePolls,
	}
	if pollInterval > 0 {
		t.guestPollInterval = pollInterval
	}
	if maxPolls > 0 {
		t.guestMaxPolls = maxPolls
	}
	if stablePolls > 0 {
		t.guestStablePolls = stablePolls
	}
	return t
}

// Default returns the saver timings with all defaults.
func Default() *Times {
	return New(0, 0, 0)
}

// BootTimeNs reads CLOCK_BOOTTIME, the clock trace timestamps are taken on. Unlike
// CLOCK_MONOTONIC it keeps counting while the system is suspended.
func BootTimeNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		// This should never happen in our target environments.
		return 0
	}
	return uint64(ts.Nano())
}
