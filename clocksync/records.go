// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clocksync // import "go.opentelemetry.io/vmtrace/clocksync"

import (
	"go.opentelemetry.io/vmtrace/tracepb"
)

// Debug annotation names carrying clock readings on sync track events.
const (
	AnnotationCPUTime   = "clock_sync_cputime"
	AnnotationBootTime  = "clock_sync_boottime"
	AnnotationMonotonic = "clock_sync_monotonic"
)

// SyncRecord pairs a CPU counter reading with a reading of a reference clock taken at the
// same instant.
type SyncRecord struct {
	CPU      uint64
	RefClock uint32
	Ref      uint64
}

// internTable resolves interned debug annotation names per packet sequence.
type internTable map[uint32]map[uint64]string

func (it internTable) update(p *tracepb.Message) uint32 {
	seq, _ := p.Uint32(tracepb.PacketTrustedSequenceID)
	flags, _ := p.Uint64(tracepb.PacketSequenceFlags)
	cleared, _ := p.Uint64(tracepb.PacketIncrementalStateCleared)
	if flags&tracepb.SeqIncrementalStateCleared != 0 || cleared != 0 {
		delete(it, seq)
	}
	for _, interned := range p.Messages(tracepb.PacketInternedData) {
		for _, entry := range interned.Messages(tracepb.InternedDebugAnnotNames) {
			iid, ok := entry.Uint64(tracepb.InternedStringIID)
			if !ok {
				continue
			}
			name, _ := entry.String(tracepb.InternedStringName)
			names, ok := it[seq]
			if !ok {
				names = make(map[uint64]string)
				it[seq] = names
			}
			names[iid] = name
		}
	}
	return seq
}

func (it internTable) name(seq uint32, annot *tracepb.Message) string {
	if name, ok := annot.String(tracepb.DebugAnnotName); ok {
		return name
	}
	if iid, ok := annot.Uint64(tracepb.DebugAnnotNameIID); ok {
		return it[seq][iid]
	}
	return ""
}

func annotationValue(annot *tracepb.Message) (uint64, bool) {
	if v, ok := annot.Uint64(tracepb.DebugAnnotUintValue); ok {
		return v, true
	}
	return annot.Uint64(tracepb.DebugAnnotIntValue)
}

// CollectSyncRecords returns the sync records of t in trace order. Two forms are recognized:
// a clock snapshot holding exactly two clocks, one of them the CPU counter, and a track event
// with clock_sync_cputime and clock_sync_boottime annotations (plus an optional
// clock_sync_monotonic one, yielding a second record).
func CollectSyncRecords(t *tracepb.Trace) []SyncRecord {
	var records []SyncRecord
	interned := make(internTable)

	for _, p := range t.Packets() {
		seq := interned.update(p)

		for _, cs := range p.Messages(tracepb.PacketClockSnapshot) {
			if r, ok := snapshotRecord(cs); ok {
				records = append(records, r)
			}
		}

		for _, te := range p.Messages(tracepb.PacketTrackEvent) {
			var cpu, boot, mono uint64
			var hasCPU, hasBoot, hasMono bool
			for _, annot := range te.Messages(tracepb.TrackEventDebugAnnots) {
				v, ok := annotationValue(annot)
				if !ok {
					continue
				}
				switch interned.name(seq, annot) {
				case AnnotationCPUTime:
					cpu, hasCPU = v, true
				case AnnotationBootTime:
					boot, hasBoot = v, true
				case AnnotationMonotonic:
					mono, hasMono = v, true
				}
			}
			if !hasCPU || !hasBoot {
				continue
			}
			records = append(records, SyncRecord{CPU: cpu, RefClock: tracepb.ClockBoottime,
				Ref: boot})
			if hasMono {
				records = append(records, SyncRecord{CPU: cpu,
					RefClock: tracepb.ClockMonotonic, Ref: mono})
			}
		}
	}
	return records
}

func snapshotRecord(cs *tracepb.Message) (SyncRecord, bool) {
	clocks := cs.Messages(tracepb.ClockSnapshotClocks)
	if len(clocks) != 2 {
		return SyncRecord{}, false
	}
	var r SyncRecord
	hasCPU, hasRef := false, false
	for _, c := range clocks {
		id, _ := c.Uint32(tracepb.ClockID)
		ts, _ := c.Uint64(tracepb.ClockTimestamp)
		if id == tracepb.ClockCPU && !hasCPU {
			r.CPU, hasCPU = ts, true
			continue
		}
		r.RefClock, r.Ref, hasRef = id, ts, true
	}
	return r, hasCPU && hasRef
}

// pair is the first and last record of one reference clock.
type pair struct {
	first, last SyncRecord
	count       int
}

func groupByClock(records []SyncRecord) (map[uint32]*pair, []uint32) {
	groups := make(map[uint32]*pair)
	var order []uint32
	for _, r := range records {
		g, ok := groups[r.RefClock]
		if !ok {
			g = &pair{first: r}
			groups[r.RefClock] = g
			order = append(order, r.RefClock)
		}
		g.last = r
		g.count++
	}
	return groups, order
}

// cyclesPerNs derives the CPU counter rate from the first and last record.
func (p *pair) cyclesPerNs() (float64, bool) {
	if p.count < 2 || p.last.Ref == p.first.Ref {
		return 0, false
	}
	cycles := float64(SignedDiff(p.last.CPU, p.first.CPU))
	ns := float64(SignedDiff(p.last.Ref, p.first.Ref))
	cpn := cycles / ns
	if cpn <= 0 {
		return 0, false
	}
	return cpn, true
}
