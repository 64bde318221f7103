// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package idspace measures the identifier spaces used by a trace so that another trace can
// be moved next to them without overlap.
package idspace // import "go.opentelemetry.io/vmtrace/idspace"

import (
	"fmt"

	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/tracepb"
	"go.opentelemetry.io/vmtrace/walker"
)

// Offsets holds the largest value seen per identifier kind. Kinds absent from the trace
// report 0.
type Offsets struct {
	UID uint32
	Seq uint32
	PID uint32
	TID uint32
	CPU uint32
}

func (o Offsets) String() string {
	return fmt.Sprintf("uid=%d seq=%d pid=%d tid=%d cpu=%d", o.UID, o.Seq, o.PID, o.TID, o.CPU)
}

func recordMax(dst *uint32) walker.IDFunc {
	return func(v uint32) uint32 {
		*dst = max(*dst, v)
		return v
	}
}

// Scan walks t with identity callbacks and returns the per-kind maxima. t is not modified.
func Scan(t *tracepb.Trace) Offsets {
	var o Offsets
	walker.WalkIDs(t, walker.IDFuncs{
		TrustedUID: recordMax(&o.UID),
		SequenceID: recordMax(&o.Seq),
		PID:        recordMax(&o.PID),
		TID:        recordMax(&o.TID),
		CPU:        recordMax(&o.CPU),
	}, walker.WithSink(diag.Discard))
	return o
}

// UUIDs returns every track uuid stored anywhere in t.
func UUIDs(t *tracepb.Trace) map[uint64]struct{} {
	uuids := make(map[uint64]struct{})
	walker.WalkUUIDs(t, func(u uint64) uint64 {
		uuids[u] = struct{}{}
		return u
	})
	return uuids
}
