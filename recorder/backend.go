// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package recorder // import "go.opentelemetry.io/vmtrace/recorder"

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/vmtrace/times"
	"go.opentelemetry.io/vmtrace/tracepb"
)

const (
	// MinBufferSizeKB is the smallest trace buffer a session is opened with.
	MinBufferSizeKB = 100 * 1024
	// TrackEventDataSource is the data source recording track events.
	TrackEventDataSource = "track_event"
	// sequenceID is the trusted packet sequence id of every packet the memory backend writes.
	sequenceID = 1
)

var (
	errBufferTooSmall   = errors.New("trace buffer too small")
	errNoTrackEvents    = errors.New("track_event data source not enabled")
	errSessionStopped   = errors.New("session already stopped")
	errUnbalancedSlices = errors.New("slice end without begin")
)

// SessionConfig describes a tracing session.
type SessionConfig struct {
	BufferSizeKB uint32
	DataSources  []string
	// DisableServiceEvents keeps recorder bookkeeping out of the trace.
	DisableServiceEvents bool
}

// Backend opens tracing sessions.
type Backend interface {
	Start(cfg SessionConfig) (Session, error)
}

// Session is a running tracing session.
type Session interface {
	// Stop ends the session and returns the recorded trace.
	Stop() ([]byte, error)
}

// EventWriter is implemented by sessions that accept events from the host process.
type EventWriter interface {
	BeginSlice(name string) error
	EndSlice() error
	Counter(name string, value int64) error
}

// MemoryBackend records track events of the current process into an in-memory trace.
type MemoryBackend struct {
	// Now returns the timestamp of an event. It defaults to times.BootTimeNs.
	Now func() uint64
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Start(cfg SessionConfig) (Session, error) {
	if cfg.BufferSizeKB < MinBufferSizeKB {
		return nil, fmt.Errorf("%w: %d KiB < %d KiB", errBufferTooSmall, cfg.BufferSizeKB,
			MinBufferSizeKB)
	}
	if !slices.Contains(cfg.DataSources, TrackEventDataSource) {
		return nil, errNoTrackEvents
	}

	now := b.Now
	if now == nil {
		now = times.BootTimeNs
	}
	pid := int32(os.Getpid())
	s := &memorySession{
		now:         now,
		trace:       tracepb.NewTrace(),
		limit:       int(cfg.BufferSizeKB) * 1024,
		processUUID: uint64(pid),
		counters:    make(map[string]uint64),
	}

	s.add(s.trace.AddPacket().
		AppendUint64(tracepb.PacketTrustedSequenceID, sequenceID).
		AppendUint64(tracepb.PacketSequenceFlags, tracepb.SeqIncrementalStateCleared))
	p := s.trace.AddPacket().AppendUint64(tracepb.PacketTrustedSequenceID, sequenceID)
	tracepb.AddProcessTrack(p, s.processUUID, pid, filepath.Base(os.Args[0]))
	s.add(p)

	if !cfg.DisableServiceEvents {
		p = s.trace.AddPacket().
			AppendUint64(tracepb.PacketTimestamp, now()).
			AppendUint64(tracepb.PacketTrustedSequenceID, sequenceID)
		p.AppendMessage(tracepb.PacketServiceEvent).
			AppendUint64(tracepb.ServiceEventTracingStart, 1)
		s.add(p)
	}
	return s, nil
}

type memorySession struct {
	now         func() uint64
	processUUID uint64

	mu       sync.Mutex
	trace    *tracepb.Trace
	size     int
	limit    int
	dropped  int
	depth    int
	counters map[string]uint64
	stopped  bool
}

var _ EventWriter = (*memorySession)(nil)

// add accounts for a packet that was appended to the trace.
func (s *memorySession) add(p *tracepb.Message) {
	s.size += len(p.Marshal())
}

// event appends a timestamped packet, or reports false if the buffer is full.
func (s *memorySession) event() (*tracepb.Message, bool) {
	if s.size >= s.limit {
		if s.dropped == 0 {
			log.Warnf("Trace buffer of %d bytes is full, dropping events", s.limit)
		}
		s.dropped++
		return nil, false
	}
	return s.trace.AddPacket().
		AppendUint64(tracepb.PacketTimestamp, s.now()).
		AppendUint64(tracepb.PacketTrustedSequenceID, sequenceID), true
}

func (s *memorySession) BeginSlice(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errSessionStopped
	}
	s.depth++
	p, ok := s.event()
	if !ok {
		return nil
	}
	tracepb.AddTrackEvent(p, s.processUUID, tracepb.TrackEventSliceBegin).
		AppendString(tracepb.TrackEventName, name)
	s.add(p)
	return nil
}

func (s *memorySession) EndSlice() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errSessionStopped
	}
	if s.depth == 0 {
		return errUnbalancedSlices
	}
	s.depth--
	p, ok := s.event()
	if !ok {
		return nil
	}
	tracepb.AddTrackEvent(p, s.processUUID, tracepb.TrackEventSliceEnd)
	s.add(p)
	return nil
}

func (s *memorySession) Counter(name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errSessionStopped
	}
	uuid, ok := s.counters[name]
	if !ok {
		uuid = xxh3.HashString(name) ^ s.processUUID
		s.counters[name] = uuid
		p := s.trace.AddPacket().AppendUint64(tracepb.PacketTrustedSequenceID, sequenceID)
		tracepb.AddCounterTrack(p, uuid, s.processUUID, name)
		s.add(p)
	}
	p, ok := s.event()
	if !ok {
		return nil
	}
	tracepb.AddTrackEvent(p, uuid, tracepb.TrackEventCounter).
		AppendUint64(tracepb.TrackEventCounterValue, uint64(value))
	s.add(p)
	return nil
}

func (s *memorySession) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errSessionStopped
	}
	s.stopped = true
	if s.dropped > 0 {
		log.Warnf("Dropped %d events on a full trace buffer", s.dropped)
	}
	return s.trace.Encode(), nil
}
