// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracepb // import "go.opentelemetry.io/vmtrace/tracepb"

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers of the Perfetto trace protos that the combiner reads or mutates.
// Everything not listed here is carried through as opaque bytes.
const (
	TracePacket protowire.Number = 1

	PacketFtraceEvents            protowire.Number = 1
	PacketProcessTree             protowire.Number = 2
	PacketTrustedUID              protowire.Number = 3
	PacketClockSnapshot           protowire.Number = 6
	PacketTimestamp               protowire.Number = 8
	PacketTrustedSequenceID       protowire.Number = 10
	PacketTrackEvent              protowire.Number = 11
	PacketInternedData            protowire.Number = 12
	PacketSequenceFlags           protowire.Number = 13
	PacketIncrementalStateCleared protowire.Number = 41
	PacketDefaults                protowire.Number = 59
	PacketTrackDescriptor         protowire.Number = 60
	PacketTrustedPID              protowire.Number = 79
	PacketServiceEvent            protowire.Number = 92

	BundleCPU   protowire.Number = 1
	BundleEvent protowire.Number = 2

	FtraceTimestamp          protowire.Number = 1
	FtracePID                protowire.Number = 2
	FtraceSchedSwitch        protowire.Number = 4
	FtraceSchedWakeup        protowire.Number = 17
	FtraceSchedBlockedReason protowire.Number = 18
	FtraceSchedWaking        protowire.Number = 20
	FtraceSchedWakeupNew     protowire.Number = 318
	FtraceSchedProcessExec   protowire.Number = 319
	FtraceSchedProcessExit   protowire.Number = 320
	FtraceSchedProcessFork   protowire.Number = 321
	FtraceSchedProcessFree   protowire.Number = 322
	FtraceSchedProcessHang   protowire.Number = 323
	FtraceSchedProcessWait   protowire.Number = 324

	SchedSwitchPrevPID       protowire.Number = 2
	SchedSwitchNextPID       protowire.Number = 6
	SchedWakeupPID           protowire.Number = 2
	SchedBlockedReasonPID    protowire.Number = 1
	SchedWakingPID           protowire.Number = 2
	SchedWakeupNewPID        protowire.Number = 2
	SchedProcessExecPID      protowire.Number = 2
	SchedProcessExecOldPID   protowire.Number = 3
	SchedProcessExitPID      protowire.Number = 2
	SchedProcessExitTGID     protowire.Number = 3
	SchedProcessForkParent   protowire.Number = 2
	SchedProcessForkChild    protowire.Number = 4
	SchedProcessFreePID      protowire.Number = 2
	SchedProcessHangPID      protowire.Number = 2
	SchedProcessWaitPID      protowire.Number = 2
	ProcessTreeProcesses     protowire.Number = 1
	ProcessTreeThreads       protowire.Number = 2
	ProcessPID               protowire.Number = 1
	ProcessPPID              protowire.Number = 2
	ThreadTID                protowire.Number = 1
	ThreadTGID               protowire.Number = 3
	ClockSnapshotClocks      protowire.Number = 1
	ClockID                  protowire.Number = 1
	ClockTimestamp           protowire.Number = 2
	TrackEventDebugAnnots    protowire.Number = 4
	TrackEventTrackUUID      protowire.Number = 11
	DebugAnnotNameIID        protowire.Number = 1
	DebugAnnotUintValue      protowire.Number = 3
	DebugAnnotIntValue       protowire.Number = 4
	DebugAnnotName           protowire.Number = 10
	InternedDebugAnnotNames  protowire.Number = 3
	InternedStringIID        protowire.Number = 1
	InternedStringName       protowire.Number = 2
	DefaultsTrackEventDefs   protowire.Number = 11
	TrackEventDefsTrackUUID  protowire.Number = 11
	TrackDescriptorUUID      protowire.Number = 1
	TrackDescriptorName      protowire.Number = 2
	TrackDescriptorProcess   protowire.Number = 3
	TrackDescriptorThread    protowire.Number = 4
	TrackDescriptorParent    protowire.Number = 5
	ProcessDescriptorPID     protowire.Number = 1
	ThreadDescriptorPID      protowire.Number = 1
	ThreadDescriptorTID      protowire.Number = 2
	TrackEventType           protowire.Number = 9
	TrackEventNameIID        protowire.Number = 10
	TrackEventCounterValue   protowire.Number = 30
	InternedEventNames       protowire.Number = 2
	ProcessDescriptorName    protowire.Number = 6
	DebugAnnotStringValue    protowire.Number = 6
	TrackEventName           protowire.Number = 23
	TrackDescriptorCounter   protowire.Number = 8
	ServiceEventTracingStart protowire.Number = 2
)

// SeqIncrementalStateCleared is the TracePacket.sequence_flags bit that resets the
// interning state of a sequence.
const SeqIncrementalStateCleared = 1

// Track event types.
const (
	TrackEventSliceBegin = 1
	TrackEventSliceEnd   = 2
	TrackEventInstant    = 3
	TrackEventCounter    = 4
)

// Builtin clock ids.
const (
	ClockMonotonic = 3
	ClockBoottime  = 6
	// ClockCPU is the clock id used by sync records for raw CPU counter (TSC) readings.
	ClockCPU = 64
)

// leaf returns a schema with no known submessages.
func leaf(name string) *Schema {
	return &Schema{name: name}
}

var ftraceEventSchema = &Schema{
	name: "FtraceEvent",
	children: map[protowire.Number]*Schema{
		FtraceSchedSwitch:        leaf("SchedSwitch"),
		FtraceSchedWakeup:        leaf("SchedWakeup"),
		FtraceSchedBlockedReason: leaf("SchedBlockedReason"),
		FtraceSchedWaking:        leaf("SchedWaking"),
		FtraceSchedWakeupNew:     leaf("SchedWakeupNew"),
		FtraceSchedProcessExec:   leaf("SchedProcessExec"),
		FtraceSchedProcessExit:   leaf("SchedProcessExit"),
		FtraceSchedProcessFork:   leaf("SchedProcessFork"),
		FtraceSchedProcessFree:   leaf("SchedProcessFree"),
		FtraceSchedProcessHang:   leaf("SchedProcessHang"),
		FtraceSchedProcessWait:   leaf("SchedProcessWait"),
	},
}

var packetSchema = &Schema{
	name: "TracePacket",
	children: map[protowire.Number]*Schema{
		PacketFtraceEvents: {
			name: "FtraceEventBundle",
			children: map[protowire.Number]*Schema{
				BundleEvent: ftraceEventSchema,
			},
		},
		PacketProcessTree: {
			name: "ProcessTree",
			children: map[protowire.Number]*Schema{
				ProcessTreeProcesses: leaf("Process"),
				ProcessTreeThreads:   leaf("Thread"),
			},
		},
		PacketClockSnapshot: {
			name: "ClockSnapshot",
			children: map[protowire.Number]*Schema{
				ClockSnapshotClocks: leaf("Clock"),
			},
		},
		PacketTrackEvent: {
			name: "TrackEvent",
			children: map[protowire.Number]*Schema{
				TrackEventDebugAnnots: leaf("DebugAnnotation"),
			},
		},
		PacketInternedData: {
			name: "InternedData",
			children: map[protowire.Number]*Schema{
				InternedDebugAnnotNames: leaf("DebugAnnotationName"),
				InternedEventNames:      leaf("EventName"),
			},
		},
		PacketDefaults: {
			name: "TracePacketDefaults",
			children: map[protowire.Number]*Schema{
				DefaultsTrackEventDefs: leaf("TrackEventDefaults"),
			},
		},
		PacketTrackDescriptor: {
			name: "TrackDescriptor",
			children: map[protowire.Number]*Schema{
				TrackDescriptorProcess: leaf("ProcessDescriptor"),
				TrackDescriptorThread:  leaf("ThreadDescriptor"),
			},
		},
	},
}

var traceSchema = &Schema{
	name: "Trace",
	children: map[protowire.Number]*Schema{
		TracePacket: packetSchema,
	},
}
