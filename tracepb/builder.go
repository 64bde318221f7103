// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracepb // import "go.opentelemetry.io/vmtrace/tracepb"

// ClockReading is a single clock_id/timestamp pair of a clock snapshot.
type ClockReading struct {
	ClockID   uint32
	Timestamp uint64
}

// AddClockSnapshot attaches a clock_snapshot with the given readings to packet p.
func AddClockSnapshot(p *Message, readings ...ClockReading) *Message {
	cs := p.AppendMessage(PacketClockSnapshot)
	for _, r := range readings {
		cs.AppendMessage(ClockSnapshotClocks).
			AppendUint64(ClockID, uint64(r.ClockID)).
			AppendUint64(ClockTimestamp, r.Timestamp)
	}
	return cs
}

// AddProcessTrack attaches a track_descriptor for a process track to packet p.
func AddProcessTrack(p *Message, uuid uint64, pid int32, name string) *Message {
	td := p.AppendMessage(PacketTrackDescriptor).AppendUint64(TrackDescriptorUUID, uuid)
	if name != "" {
		td.AppendString(TrackDescriptorName, name)
	}
	pd := td.AppendMessage(TrackDescriptorProcess).AppendInt32(ProcessDescriptorPID, pid)
	if name != "" {
		pd.AppendString(ProcessDescriptorName, name)
	}
	return td
}

// AddThreadTrack attaches a track_descriptor for a thread track to packet p.
func AddThreadTrack(p *Message, uuid, parent uint64, pid, tid int32) *Message {
	td := p.AppendMessage(PacketTrackDescriptor).AppendUint64(TrackDescriptorUUID, uuid)
	if parent != 0 {
		td.AppendUint64(TrackDescriptorParent, parent)
	}
	td.AppendMessage(TrackDescriptorThread).
		AppendInt32(ThreadDescriptorPID, pid).
		AppendInt32(ThreadDescriptorTID, tid)
	return td
}

// AddTrackEvent attaches a track_event of the given type on track uuid to packet p.
func AddTrackEvent(p *Message, uuid uint64, eventType uint64) *Message {
	return p.AppendMessage(PacketTrackEvent).
		AppendUint64(TrackEventType, eventType).
		AppendUint64(TrackEventTrackUUID, uuid)
}

// AddDebugAnnotation attaches a named unsigned debug annotation to track event te.
func AddDebugAnnotation(te *Message, name string, v uint64) *Message {
	return te.AppendMessage(TrackEventDebugAnnots).
		AppendString(DebugAnnotName, name).
		AppendUint64(DebugAnnotUintValue, v)
}

// AddFtraceEvent appends an ftrace event to bundle b.
func AddFtraceEvent(b *Message, ts uint64, pid int32) *Message {
	return b.AppendMessage(BundleEvent).
		AppendUint64(FtraceTimestamp, ts).
		AppendInt32(FtracePID, pid)
}

// AddCounterTrack attaches a track_descriptor for a counter track below parent to packet p.
func AddCounterTrack(p *Message, uuid, parent uint64, name string) *Message {
	td := p.AppendMessage(PacketTrackDescriptor).
		AppendUint64(TrackDescriptorUUID, uuid).
		AppendString(TrackDescriptorName, name)
	if parent != 0 {
		td.AppendUint64(TrackDescriptorParent, parent)
	}
	td.AppendMessage(TrackDescriptorCounter)
	return td
}
