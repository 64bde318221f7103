// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package combiner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"go.opentelemetry.io/vmtrace/clocksync"
	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/tracepb"
)

// simple returns a one packet trace with timestamp ts and trusted pid.
func simple(ts uint64, pid int32) []byte {
	tr := tracepb.NewTrace()
	tr.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, ts).
		AppendInt32(tracepb.PacketTrustedPID, pid)
	return tr.Encode()
}

func explicit(delta int64) Options {
	return Options{Strategy: clocksync.StrategyExplicit, TimeDiffNs: delta, Sink: diag.Discard}
}

func decodePackets(t *testing.T, data []byte) []*tracepb.Message {
	t.Helper()
	tr, err := tracepb.Decode(data)
	require.NoError(t, err)
	return tr.Packets()
}

func TestCombineExplicit(t *testing.T) {
	guest, host := simple(100, 7), simple(50, 7)

	res, err := Combine(guest, host, explicit(0))
	require.NoError(t, err)

	packets := decodePackets(t, res.Data)
	require.Len(t, packets, 2)
	assert.True(t, bytes.HasPrefix(res.Data, guest))

	pid, _ := packets[1].Int32(tracepb.PacketTrustedPID)
	assert.Equal(t, int32(14), pid)
	ts, _ := packets[1].Uint64(tracepb.PacketTimestamp)
	assert.Equal(t, uint64(50), ts)
	assert.Equal(t, clocksync.StrategyExplicit, res.Strategy)
	assert.Equal(t, 1, res.MainPackets)
	assert.Equal(t, 1, res.AddonPackets)
}

func TestCombineBootTime(t *testing.T) {
	guest, host := simple(1000, 1), simple(2000, 1)

	res, err := Combine(guest, host, Options{
		Strategy:         clocksync.StrategyBootTime,
		GuestBootTimeNs:  1500,
		HasGuestBootTime: true,
		Sink:             diag.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-500), res.OffsetNs)

	packets := decodePackets(t, res.Data)
	require.Len(t, packets, 2)
	ts, _ := packets[1].Uint64(tracepb.PacketTimestamp)
	assert.Equal(t, uint64(1500), ts)
}

func TestCombineMergeGuestIntoHost(t *testing.T) {
	guest, host := simple(100, 7), simple(50, 7)

	opts := explicit(30)
	opts.MergeGuestIntoHost = true
	res, err := Combine(guest, host, opts)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(res.Data, host), "host passes through verbatim")
	assert.Equal(t, int64(30), res.OffsetNs)
	assert.Equal(t, int64(-30), res.ShiftNs)

	packets := decodePackets(t, res.Data)
	require.Len(t, packets, 2)
	ts, _ := packets[1].Uint64(tracepb.PacketTimestamp)
	assert.Equal(t, uint64(70), ts)
	pid, _ := packets[1].Int32(tracepb.PacketTrustedPID)
	assert.Equal(t, int32(14), pid)
}

func TestCombineDirectionSymmetry(t *testing.T) {
	guest, host := simple(100, 7), simple(50, 7)

	fwd, err := Combine(guest, host, explicit(50))
	require.NoError(t, err)
	opts := explicit(50)
	opts.MergeGuestIntoHost = true
	rev, err := Combine(guest, host, opts)
	require.NoError(t, err)

	timestamps := func(data []byte) []uint64 {
		var out []uint64
		for _, p := range decodePackets(t, data) {
			ts, _ := p.Uint64(tracepb.PacketTimestamp)
			out = append(out, ts)
		}
		return out
	}
	// Forward: host 50 moves to guest time 100. Reverse: guest 100 moves to host time 50.
	assert.Equal(t, []uint64{100, 100}, timestamps(fwd.Data))
	assert.Equal(t, []uint64{50, 50}, timestamps(rev.Data))
}

func TestCombineRemapsTrackUUIDs(t *testing.T) {
	gt := tracepb.NewTrace()
	tracepb.AddProcessTrack(gt.AddPacket(), 0xAAA, 42, "guest")
	tracepb.AddTrackEvent(gt.AddPacket(), 0xAAA, tracepb.TrackEventSliceBegin)

	ht := tracepb.NewTrace()
	tracepb.AddProcessTrack(ht.AddPacket(), 0x1, 100, "host")

	opts := explicit(0)
	opts.MergeGuestIntoHost = true
	res, err := Combine(gt.Encode(), ht.Encode(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemappedUUIDs)

	packets := decodePackets(t, res.Data)
	require.Len(t, packets, 3)
	td := packets[1].Message(tracepb.PacketTrackDescriptor)
	uuid, _ := td.Uint64(tracepb.TrackDescriptorUUID)
	pid, _ := td.Message(tracepb.TrackDescriptorProcess).Int32(tracepb.ProcessDescriptorPID)
	ref, _ := packets[2].Message(tracepb.PacketTrackEvent).Uint64(tracepb.TrackEventTrackUUID)
	assert.NotEqual(t, uint64(0xAAA), uuid)
	assert.NotEqual(t, uint64(0x1), uuid)
	assert.Equal(t, uuid, ref)
	assert.Equal(t, int32(142), pid)
}

// richTrace carries every identifier kind, including pid 0 and a dangling track reference.
func richTrace(base uint64, pid int32) []byte {
	tr := tracepb.NewTrace()
	p := tr.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, base).
		AppendUint64(tracepb.PacketTrustedUID, 1).
		AppendUint64(tracepb.PacketTrustedSequenceID, 2)
	tracepb.AddProcessTrack(p, 0x10, pid, "")
	tracepb.AddThreadTrack(p, 0x11, 0x10, pid, pid+1)

	p = tr.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, base+5).
		AppendInt32(tracepb.PacketTrustedPID, pid)
	pt := p.AppendMessage(tracepb.PacketProcessTree)
	pt.AppendMessage(tracepb.ProcessTreeProcesses).
		AppendInt32(tracepb.ProcessPID, pid).
		AppendInt32(tracepb.ProcessPPID, 1)
	pt.AppendMessage(tracepb.ProcessTreeThreads).
		AppendInt32(tracepb.ThreadTID, pid+2).
		AppendInt32(tracepb.ThreadTGID, pid)

	p = tr.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, base+10).
		AppendUint64(tracepb.PacketTrustedSequenceID, 3)
	b := p.AppendMessage(tracepb.PacketFtraceEvents).AppendUint64(tracepb.BundleCPU, 0)
	ev := tracepb.AddFtraceEvent(b, base+11, pid)
	ev.AppendMessage(tracepb.FtraceSchedSwitch).
		AppendInt32(tracepb.SchedSwitchPrevPID, pid).
		AppendInt32(tracepb.SchedSwitchNextPID, 0)
	b = p.AppendMessage(tracepb.PacketFtraceEvents).AppendUint64(tracepb.BundleCPU, 1)
	tracepb.AddFtraceEvent(b, base+12, 0)

	p = tr.AddPacket().AppendUint64(tracepb.PacketTimestamp, base+20)
	tracepb.AddTrackEvent(p, 0x11, tracepb.TrackEventSliceBegin)
	p = tr.AddPacket().AppendUint64(tracepb.PacketTimestamp, base+30)
	tracepb.AddTrackEvent(p, 0xDEAD, tracepb.TrackEventInstant)
	tracepb.AddClockSnapshot(p, tracepb.ClockReading{ClockID: tracepb.ClockBoottime,
		Timestamp: base})
	return tr.Encode()
}

type idSets struct {
	uid, seq, pid, tid, cpu map[uint64]struct{}
	zeroPIDs                int
}

// collectIDs gathers every identifier per kind. Zero pids and tids are left out.
func collectIDs(packets []*tracepb.Message) idSets {
	s := idSets{
		uid: map[uint64]struct{}{}, seq: map[uint64]struct{}{},
		pid: map[uint64]struct{}{}, tid: map[uint64]struct{}{},
		cpu: map[uint64]struct{}{},
	}
	add := func(set map[uint64]struct{}, m *tracepb.Message, num protowire.Number) {
		if v, ok := m.Uint64(num); ok {
			set[v] = struct{}{}
		}
	}
	addNonZero := func(set map[uint64]struct{}, m *tracepb.Message, num protowire.Number) {
		if v, ok := m.Uint64(num); ok && v != 0 {
			set[v] = struct{}{}
		}
	}
	for _, p := range packets {
		add(s.uid, p, tracepb.PacketTrustedUID)
		add(s.seq, p, tracepb.PacketTrustedSequenceID)
		addNonZero(s.pid, p, tracepb.PacketTrustedPID)
		for _, b := range p.Messages(tracepb.PacketFtraceEvents) {
			add(s.cpu, b, tracepb.BundleCPU)
			for _, ev := range b.Messages(tracepb.BundleEvent) {
				if v, _ := ev.Uint64(tracepb.FtracePID); v == 0 {
					s.zeroPIDs++
				} else {
					s.pid[v] = struct{}{}
				}
				for _, sw := range ev.Messages(tracepb.FtraceSchedSwitch) {
					addNonZero(s.pid, sw, tracepb.SchedSwitchPrevPID)
					addNonZero(s.pid, sw, tracepb.SchedSwitchNextPID)
				}
			}
		}
		for _, td := range p.Messages(tracepb.PacketTrackDescriptor) {
			for _, pd := range td.Messages(tracepb.TrackDescriptorProcess) {
				addNonZero(s.pid, pd, tracepb.ProcessDescriptorPID)
			}
			for _, th := range td.Messages(tracepb.TrackDescriptorThread) {
				addNonZero(s.pid, th, tracepb.ThreadDescriptorPID)
				addNonZero(s.tid, th, tracepb.ThreadDescriptorTID)
			}
		}
		for _, pt := range p.Messages(tracepb.PacketProcessTree) {
			for _, proc := range pt.Messages(tracepb.ProcessTreeProcesses) {
				addNonZero(s.pid, proc, tracepb.ProcessPID)
				addNonZero(s.pid, proc, tracepb.ProcessPPID)
			}
			for _, th := range pt.Messages(tracepb.ProcessTreeThreads) {
				addNonZero(s.tid, th, tracepb.ThreadTID)
				addNonZero(s.pid, th, tracepb.ThreadTGID)
			}
		}
	}
	return s
}

func disjoint(t *testing.T, kind string, a, b map[uint64]struct{}) {
	t.Helper()
	for v := range a {
		_, ok := b[v]
		assert.False(t, ok, "%s %d used on both sides", kind, v)
	}
}

func TestCombineInvariants(t *testing.T) {
	guest, host := richTrace(1000, 5), richTrace(5000, 5)

	for _, merge := range []bool{false, true} {
		opts := explicit(-4000)
		opts.MergeGuestIntoHost = merge
		c := diag.NewCollector(nil)
		opts.Sink = c

		res, err := Combine(guest, host, opts)
		require.NoError(t, err)
		main, addon := guest, host
		if merge {
			main, addon = host, guest
		}

		packets := decodePackets(t, res.Data)
		mainPackets := decodePackets(t, main)
		addonIn := decodePackets(t, addon)
		require.Len(t, packets, len(mainPackets)+len(addonIn))
		assert.Equal(t, main, res.Data[:len(main)])

		out := packets[len(mainPackets):]
		mainIDs, addonIDs := collectIDs(mainPackets), collectIDs(out)
		disjoint(t, "cpu", mainIDs.cpu, addonIDs.cpu)
		disjoint(t, "pid", mainIDs.pid, addonIDs.pid)
		disjoint(t, "tid", mainIDs.tid, addonIDs.tid)
		require.NotEmpty(t, addonIDs.tid)
		disjoint(t, "seq", mainIDs.seq, addonIDs.seq)
		disjoint(t, "uid", mainIDs.uid, addonIDs.uid)
		assert.Equal(t, collectIDs(addonIn).zeroPIDs, addonIDs.zeroPIDs)

		// Timestamp order is preserved.
		var prev uint64
		for i, p := range out {
			ts, ok := p.Uint64(tracepb.PacketTimestamp)
			require.True(t, ok)
			if i > 0 {
				assert.Less(t, prev, ts)
			}
			prev = ts
		}

		// Every track reference resolves, except the one that dangled before.
		descriptors := map[uint64]struct{}{}
		for _, p := range out {
			for _, td := range p.Messages(tracepb.PacketTrackDescriptor) {
				uuid, _ := td.Uint64(tracepb.TrackDescriptorUUID)
				descriptors[uuid] = struct{}{}
			}
		}
		for _, p := range out {
			for _, te := range p.Messages(tracepb.PacketTrackEvent) {
				uuid, _ := te.Uint64(tracepb.TrackEventTrackUUID)
				if uuid == 0xDEAD {
					continue
				}
				assert.Contains(t, descriptors, uuid)
			}
			assert.False(t, p.Has(tracepb.PacketClockSnapshot))
		}
		assert.Equal(t, 1, c.Count(diag.ErrUUIDDangling))
		assert.Equal(t, 2, res.RemappedUUIDs)
	}
}

// processTree returns a trace with a single process_tree packet.
func processTree(pid, ppid, tid, tgid int32) []byte {
	tr := tracepb.NewTrace()
	pt := tr.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, 10).
		AppendMessage(tracepb.PacketProcessTree)
	proc := pt.AppendMessage(tracepb.ProcessTreeProcesses).AppendInt32(tracepb.ProcessPID, pid)
	if ppid != 0 {
		proc.AppendInt32(tracepb.ProcessPPID, ppid)
	}
	pt.AppendMessage(tracepb.ProcessTreeThreads).
		AppendInt32(tracepb.ThreadTID, tid).
		AppendInt32(tracepb.ThreadTGID, tgid)
	return tr.Encode()
}

func TestCombineMovesProcessTree(t *testing.T) {
	guest := processTree(50, 0, 50, 50)
	host := processTree(50, 1, 51, 50)

	res, err := Combine(guest, host, explicit(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(50), res.Offsets.PID)
	assert.Equal(t, uint32(50), res.Offsets.TID)

	packets := decodePackets(t, res.Data)
	require.Len(t, packets, 2)
	pt := packets[1].Message(tracepb.PacketProcessTree)
	require.NotNil(t, pt)
	proc := pt.Message(tracepb.ProcessTreeProcesses)
	th := pt.Message(tracepb.ProcessTreeThreads)

	pid, _ := proc.Int32(tracepb.ProcessPID)
	ppid, _ := proc.Int32(tracepb.ProcessPPID)
	tid, _ := th.Int32(tracepb.ThreadTID)
	tgid, _ := th.Int32(tracepb.ThreadTGID)
	assert.Equal(t, int32(100), pid)
	assert.Equal(t, int32(51), ppid)
	assert.Equal(t, int32(101), tid)
	assert.Equal(t, int32(100), tgid)
}

func TestCombineConcatenatesDisjointInputs(t *testing.T) {
	gt := tracepb.NewTrace()
	gt.AddPacket().AppendUint64(tracepb.PacketTimestamp, 1)
	ht := tracepb.NewTrace()
	ht.AddPacket().AppendUint64(tracepb.PacketTimestamp, 2).
		AppendUint64(tracepb.PacketTrustedSequenceID, 4)
	guest, host := gt.Encode(), ht.Encode()

	res, err := Combine(guest, host, explicit(0))
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, guest...), host...), res.Data)
}

func TestCombineCompressedInput(t *testing.T) {
	guest, host := simple(100, 7), simple(50, 7)
	gz, err := tracepb.Compress(host)
	require.NoError(t, err)

	res, err := Combine(guest, gz, explicit(0))
	require.NoError(t, err)
	assert.Len(t, decodePackets(t, res.Data), 2)
}

func TestCombineDecodeError(t *testing.T) {
	guest, host := simple(100, 7), richTrace(1, 1)

	_, err := Combine(guest, host[:len(host)-2], explicit(0))
	require.ErrorIs(t, err, tracepb.ErrDecode)
	assert.Contains(t, err.Error(), "host trace")
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCombineFiles(t *testing.T) {
	dir := t.TempDir()
	guest := writeFile(t, dir, "guest.trace", simple(100, 7))
	host := writeFile(t, dir, "host.trace", simple(50, 7))
	out := filepath.Join(dir, "combined.trace")

	res, err := CombineFiles(guest, host, out, explicit(0))
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, res.Data, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary file left behind")
}

func TestCombineFilesCompress(t *testing.T) {
	dir := t.TempDir()
	guest := writeFile(t, dir, "guest.trace", simple(100, 7))
	host := writeFile(t, dir, "host.trace", simple(50, 7))
	out := filepath.Join(dir, "combined.trace.gz")

	opts := explicit(0)
	opts.Compress = true
	res, err := CombineFiles(guest, host, out, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	plain, err := tracepb.Decompress(data)
	require.NoError(t, err)
	assert.Equal(t, res.Data, plain)
}

func TestCombineFilesErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.trace", simple(1, 1))
	empty := writeFile(t, dir, "empty.trace", nil)
	corrupt := writeFile(t, dir, "corrupt.trace", []byte{0x0a, 0x05, 0x08})
	out := filepath.Join(dir, "out.trace")

	tests := map[string]struct {
		guest, host, out string
		target           error
	}{
		"missing guest path": {guest: "", host: good, out: out, target: ErrInvalidArgument},
		"missing output":     {guest: good, host: good, out: "", target: ErrInvalidArgument},
		"nonexistent host": {guest: good, host: filepath.Join(dir, "nope"), out: out,
			target: ErrInvalidArgument},
		"directory":  {guest: dir, host: good, out: out, target: ErrInvalidArgument},
		"empty file": {guest: good, host: empty, out: out, target: ErrInvalidArgument},
		"corrupt":    {guest: good, host: corrupt, out: out, target: tracepb.ErrDecode},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := CombineFiles(tc.guest, tc.host, tc.out, explicit(0))
			require.ErrorIs(t, err, tc.target)
			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no output on failure")
		})
	}
}

func TestWriteFileAtomicRenameError(t *testing.T) {
	dir := t.TempDir()
	// Renaming a file over a non-empty directory fails.
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0o700))
	writeFile(t, target, "keep", []byte("x"))

	err := WriteFileAtomic(target, []byte("data"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "rename", ioErr.Op)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file removed")
}
