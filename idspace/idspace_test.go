// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package idspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/vmtrace/tracepb"
)

func TestScan(t *testing.T) {
	tests := map[string]struct {
		build func(tr *tracepb.Trace)
		want  Offsets
	}{
		"empty": {
			build: func(*tracepb.Trace) {},
			want:  Offsets{},
		},
		"packet fields": {
			build: func(tr *tracepb.Trace) {
				tr.AddPacket().
					AppendUint64(tracepb.PacketTrustedUID, 1000).
					AppendUint64(tracepb.PacketTrustedSequenceID, 4)
				tr.AddPacket().
					AppendUint64(tracepb.PacketTrustedUID, 10).
					AppendUint64(tracepb.PacketTrustedSequenceID, 9)
			},
			want: Offsets{UID: 1000, Seq: 9},
		},
		"ftrace": {
			build: func(tr *tracepb.Trace) {
				b := tr.AddPacket().AppendMessage(tracepb.PacketFtraceEvents).
					AppendUint64(tracepb.BundleCPU, 3)
				ev := tracepb.AddFtraceEvent(b, 1, 12)
				ev.AppendMessage(tracepb.FtraceSchedSwitch).
					AppendInt32(tracepb.SchedSwitchPrevPID, 12).
					AppendInt32(tracepb.SchedSwitchNextPID, 77)
			},
			want: Offsets{PID: 77, CPU: 3},
		},
		"descriptors and process tree": {
			build: func(tr *tracepb.Trace) {
				p := tr.AddPacket()
				tracepb.AddProcessTrack(p, 1, 30, "")
				tracepb.AddThreadTrack(p, 2, 1, 30, 31)
				pt := tr.AddPacket().AppendMessage(tracepb.PacketProcessTree)
				pt.AppendMessage(tracepb.ProcessTreeThreads).
					AppendInt32(tracepb.ThreadTID, 55).
					AppendInt32(tracepb.ThreadTGID, 40)
			},
			want: Offsets{PID: 40, TID: 55},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tr := tracepb.NewTrace()
			tc.build(tr)
			data := tr.Encode()

			decoded, err := tracepb.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, Scan(decoded))
			assert.Equal(t, data, decoded.Encode(), "scan must not modify the trace")
		})
	}
}

func TestUUIDs(t *testing.T) {
	tr := tracepb.NewTrace()
	p := tr.AddPacket()
	tracepb.AddProcessTrack(p, 1, 30, "")
	tracepb.AddThreadTrack(p, 2, 1, 30, 31)
	tracepb.AddTrackEvent(tr.AddPacket(), 9, tracepb.TrackEventInstant)

	assert.Equal(t, map[uint64]struct{}{1: {}, 2: {}, 9: {}}, UUIDs(tr))
}
