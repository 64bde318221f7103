// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package walker visits the fields of a trace that the combiner rewrites: timestamps,
// track uuids and the identifier spaces (uids, sequence ids, pids, tids, cpus).
package walker // import "go.opentelemetry.io/vmtrace/walker"

import (
	"google.golang.org/protobuf/encoding/protowire"

	"go.opentelemetry.io/vmtrace/tracepb"
)

// IDFunc maps one identifier to its replacement.
type IDFunc func(uint32) uint32

// IDFuncs holds one callback per identifier kind. A nil callback leaves the kind untouched.
type IDFuncs struct {
	TrustedUID IDFunc
	SequenceID IDFunc
	PID        IDFunc
	TID        IDFunc
	CPU        IDFunc
}

func identity(v uint32) uint32 { return v }

func (fns IDFuncs) withDefaults() IDFuncs {
	for _, f := range []*IDFunc{&fns.TrustedUID, &fns.SequenceID, &fns.PID, &fns.TID, &fns.CPU} {
		if *f == nil {
			*f = identity
		}
	}
	return fns
}

// schedPIDs lists the pid-like fields of every scheduler ftrace event.
var schedPIDs = []struct {
	event protowire.Number
	pids  []protowire.Number
}{
	{tracepb.FtraceSchedSwitch,
		[]protowire.Number{tracepb.SchedSwitchPrevPID, tracepb.SchedSwitchNextPID}},
	{tracepb.FtraceSchedWakeup, []protowire.Number{tracepb.SchedWakeupPID}},
	{tracepb.FtraceSchedBlockedReason, []protowire.Number{tracepb.SchedBlockedReasonPID}},
	{tracepb.FtraceSchedWaking, []protowire.Number{tracepb.SchedWakingPID}},
	{tracepb.FtraceSchedWakeupNew, []protowire.Number{tracepb.SchedWakeupNewPID}},
	{tracepb.FtraceSchedProcessExec,
		[]protowire.Number{tracepb.SchedProcessExecPID, tracepb.SchedProcessExecOldPID}},
	{tracepb.FtraceSchedProcessExit,
		[]protowire.Number{tracepb.SchedProcessExitPID, tracepb.SchedProcessExitTGID}},
	{tracepb.FtraceSchedProcessFork,
		[]protowire.Number{tracepb.SchedProcessForkParent, tracepb.SchedProcessForkChild}},
	{tracepb.FtraceSchedProcessFree, []protowire.Number{tracepb.SchedProcessFreePID}},
	{tracepb.FtraceSchedProcessHang, []protowire.Number{tracepb.SchedProcessHangPID}},
	{tracepb.FtraceSchedProcessWait, []protowire.Number{tracepb.SchedProcessWaitPID}},
}

// WalkTimestamps rewrites packet timestamps and ftrace event timestamps through f.
func WalkTimestamps(t *tracepb.Trace, f func(uint64) uint64) {
	for _, p := range t.Packets() {
		if ts, ok := p.Uint64(tracepb.PacketTimestamp); ok {
			p.SetUint64(tracepb.PacketTimestamp, f(ts))
		}
		for _, bundle := range p.Messages(tracepb.PacketFtraceEvents) {
			for _, ev := range bundle.Messages(tracepb.BundleEvent) {
				if ts, ok := ev.Uint64(tracepb.FtraceTimestamp); ok {
					ev.SetUint64(tracepb.FtraceTimestamp, f(ts))
				}
			}
		}
	}
}

// WalkUUIDs rewrites every stored track uuid through f: descriptor uuids and parent uuids,
// track event uuids and the track uuid of trace packet defaults.
func WalkUUIDs(t *tracepb.Trace, f func(uint64) uint64) {
	for _, p := range t.Packets() {
		for _, defaults := range p.Messages(tracepb.PacketDefaults) {
			for _, ted := range defaults.Messages(tracepb.DefaultsTrackEventDefs) {
				mapUint64(ted, tracepb.TrackEventDefsTrackUUID, f)
			}
		}
		for _, te := range p.Messages(tracepb.PacketTrackEvent) {
			mapUint64(te, tracepb.TrackEventTrackUUID, f)
		}
		for _, td := range p.Messages(tracepb.PacketTrackDescriptor) {
			mapUint64(td, tracepb.TrackDescriptorUUID, f)
			mapUint64(td, tracepb.TrackDescriptorParent, f)
		}
	}
}

func mapUint64(m *tracepb.Message, num protowire.Number, f func(uint64) uint64) {
	if v, ok := m.Uint64(num); ok {
		m.SetUint64(num, f(v))
	}
}

// mapID applies f to an unsigned 32-bit identifier. Zero is passed to f like any other value.
func mapID(m *tracepb.Message, num protowire.Number, f IDFunc) {
	if v, ok := m.Uint32(num); ok {
		m.SetUint32(num, f(v))
	}
}

// mapPID applies f to a pid or tid field. Zero means "no process" and is never handed to f.
// It reports whether the stored value changed.
func mapPID(m *tracepb.Message, num protowire.Number, f IDFunc, signed bool) bool {
	v, ok := m.Uint32(num)
	if !ok || v == 0 {
		return false
	}
	next := f(v)
	if next == v {
		return false
	}
	if signed {
		m.SetInt32(num, int32(next))
	} else {
		m.SetUint32(num, next)
	}
	return true
}

// WalkIDs rewrites every identifier of t through fns. Track descriptors whose embedded pid
// or tid changed receive a new uuid, and all references to the old uuid are rewritten in a
// second pass once every identifier has been mutated. It returns the number of remapped
// track uuids.
func WalkIDs(t *tracepb.Trace, fns IDFuncs, opts ...Option) int {
	fns = fns.withDefaults()
	cfg := newConfig(opts)
	remap := newUUIDRemapper(cfg)

	for _, p := range t.Packets() {
		mapID(p, tracepb.PacketTrustedUID, fns.TrustedUID)
		mapID(p, tracepb.PacketTrustedSequenceID, fns.SequenceID)
		mapPID(p, tracepb.PacketTrustedPID, fns.PID, true)

		for _, bundle := range p.Messages(tracepb.PacketFtraceEvents) {
			mapID(bundle, tracepb.BundleCPU, fns.CPU)
			for _, ev := range bundle.Messages(tracepb.BundleEvent) {
				walkFtraceEvent(ev, fns)
			}
		}

		for _, td := range p.Messages(tracepb.PacketTrackDescriptor) {
			changed := false
			for _, pd := range td.Messages(tracepb.TrackDescriptorProcess) {
				changed = mapPID(pd, tracepb.ProcessDescriptorPID, fns.PID, true) || changed
			}
			for _, th := range td.Messages(tracepb.TrackDescriptorThread) {
				changed = mapPID(th, tracepb.ThreadDescriptorPID, fns.PID, true) || changed
				changed = mapPID(th, tracepb.ThreadDescriptorTID, fns.TID, true) || changed
			}
			if uuid, ok := td.Uint64(tracepb.TrackDescriptorUUID); ok {
				remap.addDescriptor(uuid, changed)
			}
		}

		for _, pt := range p.Messages(tracepb.PacketProcessTree) {
			for _, proc := range pt.Messages(tracepb.ProcessTreeProcesses) {
				mapPID(proc, tracepb.ProcessPID, fns.PID, true)
				mapPID(proc, tracepb.ProcessPPID, fns.PID, true)
			}
			for _, th := range pt.Messages(tracepb.ProcessTreeThreads) {
				mapPID(th, tracepb.ThreadTID, fns.TID, true)
				mapPID(th, tracepb.ThreadTGID, fns.PID, true)
			}
		}
	}

	return remap.apply(t)
}

func walkFtraceEvent(ev *tracepb.Message, fns IDFuncs) {
	mapPID(ev, tracepb.FtracePID, fns.PID, false)
	for _, sched := range schedPIDs {
		for _, sub := range ev.Messages(sched.event) {
			for _, num := range sched.pids {
				mapPID(sub, num, fns.PID, true)
			}
		}
	}
}
