// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package transform moves an addon trace into the clock domain and next to the identifier
// spaces of the trace it is merged into.
package transform // import "go.opentelemetry.io/vmtrace/transform"

import (
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/idspace"
	"go.opentelemetry.io/vmtrace/tracepb"
	"go.opentelemetry.io/vmtrace/walker"
)

// Params holds the adjustments applied by Apply.
type Params struct {
	// DeltaNs is added to every timestamp with two's complement wraparound.
	DeltaNs int64
	// Offsets are the identifier maxima of the main trace.
	Offsets idspace.Offsets
	// ReservedUUIDs are track uuids that remapped descriptors must not take.
	ReservedUUIDs map[uint64]struct{}
	Sink          diag.Sink
}

// Stats describes what Apply changed.
type Stats struct {
	StrippedPackets int
	RemappedUUIDs   int
}

// Apply strips recorder bookkeeping from addon, shifts its timestamps and offsets its
// identifiers. Pids and tids of 0 are left untouched and cpus move past the last main cpu.
func Apply(addon *tracepb.Trace, p Params) Stats {
	var stats Stats
	for _, pkt := range addon.Packets() {
		snapshot := pkt.Clear(tracepb.PacketClockSnapshot)
		service := pkt.Clear(tracepb.PacketServiceEvent)
		if snapshot || service {
			stats.StrippedPackets++
		}
	}

	shift := uint64(p.DeltaNs)
	walker.WalkTimestamps(addon, func(ts uint64) uint64 { return ts + shift })

	off := p.Offsets
	stats.RemappedUUIDs = walker.WalkIDs(addon, walker.IDFuncs{
		TrustedUID: func(v uint32) uint32 { return v + off.UID },
		SequenceID: func(v uint32) uint32 { return v + off.Seq },
		PID:        func(v uint32) uint32 { return v + off.PID },
		TID:        func(v uint32) uint32 { return v + off.TID },
		CPU:        func(v uint32) uint32 { return v + off.CPU + 1 },
	}, walker.WithSink(p.Sink), walker.WithReservedUUIDs(p.ReservedUUIDs))

	log.Debugf("Transformed addon trace: shift %dns, offsets %v, %d packets stripped, "+
		"%d track uuids remapped", p.DeltaNs, off, stats.StrippedPackets, stats.RemappedUUIDs)
	return stats
}
