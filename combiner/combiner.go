// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package combiner merges a guest trace and a host trace into one time-aligned trace.
//
// One side, the main trace, is emitted byte for byte. The other side, the addon trace, is
// shifted into the main trace's clock domain, moved past the main trace's identifier spaces
// and appended. The concatenation of two traces is itself a valid trace.
package combiner // import "go.opentelemetry.io/vmtrace/combiner"

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/clocksync"
	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/idspace"
	"go.opentelemetry.io/vmtrace/tracepb"
	"go.opentelemetry.io/vmtrace/transform"
)

// Options controls a combine run.
type Options struct {
	// Strategy selects how the guest to host clock offset is obtained.
	Strategy clocksync.Strategy
	// TimeDiffNs is the guest minus host offset used with clocksync.StrategyExplicit.
	TimeDiffNs int64
	// GuestBootTimeNs is the guest clock reading taken when host tracing started.
	GuestBootTimeNs  uint64
	HasGuestBootTime bool
	// GuestTSCOffset moves guest CPU counter readings into the host counter domain.
	GuestTSCOffset int64
	// MergeGuestIntoHost makes the host trace the main trace. By default the guest trace is
	// the main trace and the host trace is appended to it.
	MergeGuestIntoHost bool
	// Compress gzips the output written by CombineFiles.
	Compress bool
	// Sink receives warnings. A nil Sink logs them.
	Sink diag.Sink
}

// Result describes a finished combine.
type Result struct {
	// Data is the combined trace.
	Data []byte
	// OffsetNs is the guest minus host clock offset.
	OffsetNs int64
	// ShiftNs is the offset that was added to the addon timestamps.
	ShiftNs int64
	// Strategy is the strategy that produced OffsetNs.
	Strategy clocksync.Strategy
	// Offsets are the identifier maxima of the main trace.
	Offsets         idspace.Offsets
	MainPackets     int
	AddonPackets    int
	StrippedPackets int
	RemappedUUIDs   int
	Warnings        []error
}

func decode(side string, data []byte) ([]byte, *tracepb.Trace, error) {
	plain, err := tracepb.Decompress(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s trace: %w", side, err)
	}
	t, err := tracepb.Decode(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("%s trace: %w", side, err)
	}
	return plain, t, nil
}

// Combine merges the guest and host trace bytes. Either input may be gzip or zstd
// compressed. The only error Combine returns wraps tracepb.ErrDecode.
func Combine(guest, host []byte, opts Options) (*Result, error) {
	guestBytes, guestTrace, err := decode("guest", guest)
	if err != nil {
		return nil, err
	}
	hostBytes, hostTrace, err := decode("host", host)
	if err != nil {
		return nil, err
	}

	collector := diag.NewCollector(diag.OrDefault(opts.Sink))

	mainBytes, main, addon := guestBytes, guestTrace, hostTrace
	if opts.MergeGuestIntoHost {
		mainBytes, main, addon = hostBytes, hostTrace, guestTrace
	}
	offsets := idspace.Scan(main)

	clock := clocksync.Reconcile(guestTrace, hostTrace, clocksync.Request{
		Strategy:         opts.Strategy,
		TimeDiffNs:       opts.TimeDiffNs,
		GuestBootTimeNs:  opts.GuestBootTimeNs,
		HasGuestBootTime: opts.HasGuestBootTime,
		GuestTSCOffset:   opts.GuestTSCOffset,
	}, collector)

	// The offset maps host onto guest time. Shifting the guest onto the host inverts it.
	shift := clock.OffsetNs
	if opts.MergeGuestIntoHost {
		shift = -shift
	}

	stats := transform.Apply(addon, transform.Params{
		DeltaNs:       shift,
		Offsets:       offsets,
		ReservedUUIDs: idspace.UUIDs(main),
		Sink:          collector,
	})

	addonBytes := addon.Encode()
	out := make([]byte, 0, len(mainBytes)+len(addonBytes))
	out = append(out, mainBytes...)
	out = append(out, addonBytes...)

	res := &Result{
		Data:            out,
		OffsetNs:        clock.OffsetNs,
		ShiftNs:         shift,
		Strategy:        clock.Strategy,
		Offsets:         offsets,
		MainPackets:     main.Len(),
		AddonPackets:    addon.Len(),
		StrippedPackets: stats.StrippedPackets,
		RemappedUUIDs:   stats.RemappedUUIDs,
		Warnings:        collector.Warnings(),
	}
	log.Debugf("Combined %d main and %d addon packets (%d bytes)", res.MainPackets,
		res.AddonPackets, len(res.Data))
	return res, nil
}
