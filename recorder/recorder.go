// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package recorder records the host side trace of a virtual machine monitor and, once
// recording stopped, merges it with the guest trace pulled from the virtual machine.
package recorder // import "go.opentelemetry.io/vmtrace/recorder"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/clocksync"
	"go.opentelemetry.io/vmtrace/combiner"
	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/times"
)

// Environment variables overriding the configured file names when non-empty.
const (
	EnvHostFile     = "HOST_FILE"
	EnvGuestFile    = "GUEST_FILE"
	EnvCombinedFile = "COMBINED_FILE"
)

var (
	// ErrTracingEnabled is returned by SetGuestTime while tracing is enabled.
	ErrTracingEnabled = errors.New("tracing is enabled")
	// ErrNoHostFile is returned by EnableTracing when no host trace file is configured.
	ErrNoHostFile = errors.New("no host trace file configured")
)

// Config configures a Recorder.
type Config struct {
	HostFile     string
	GuestFile    string
	CombinedFile string

	// BufferSizeKB is raised to MinBufferSizeKB if smaller.
	BufferSizeKB uint32

	// GuestTSCOffset and MergeGuestIntoHost are passed on to the combiner.
	GuestTSCOffset     int64
	MergeGuestIntoHost bool

	// Times holds the saver timings. Nil selects times.Default().
	Times times.IntervalsAndTimers
	// Backend opens the tracing sessions. Nil selects a MemoryBackend.
	Backend Backend
	// Sink receives combine warnings. Nil logs them.
	Sink diag.Sink
}

// Recorder starts and stops host tracing and owns the asynchronous trace saver.
type Recorder struct {
	cfg     Config
	backend Backend
	times   times.IntervalsAndTimers

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session Session
	files   fileNames

	guestTimeNs  uint64
	hostTimeNs   uint64
	hasGuestTime bool

	// saving is non-nil while a saver owns the recorded trace and is closed when it is done.
	saving    chan struct{}
	saveError error
}

type fileNames struct {
	host, guest, combined string
}

// New returns a Recorder with tracing disabled.
func New(cfg Config) *Recorder {
	r := &Recorder{
		cfg:     cfg,
		backend: cfg.Backend,
		times:   cfg.Times,
	}
	if r.backend == nil {
		r.backend = &MemoryBackend{}
	}
	if r.times == nil {
		r.times = times.Default()
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

func fromEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// SetGuestTime records a guest clock reading together with the host boot clock. It is only
// allowed while tracing is disabled.
func (r *Recorder) SetGuestTime(guestTimeNs uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return ErrTracingEnabled
	}
	r.guestTimeNs = guestTimeNs
	r.hostTimeNs = times.BootTimeNs()
	r.hasGuestTime = true
	log.Debugf("Guest time %d at host time %d", r.guestTimeNs, r.hostTimeNs)
	return nil
}

// Enabled reports whether a tracing session is running.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// EnableTracing opens a tracing session. It does nothing while tracing is enabled or a saver
// is still running.
func (r *Recorder) EnableTracing() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil || r.isSavingLocked() {
		return nil
	}

	files := fileNames{
		host:     fromEnv(EnvHostFile, r.cfg.HostFile),
		guest:    fromEnv(EnvGuestFile, r.cfg.GuestFile),
		combined: fromEnv(EnvCombinedFile, r.cfg.CombinedFile),
	}
	if files.host == "" {
		return ErrNoHostFile
	}

	session, err := r.backend.Start(SessionConfig{
		BufferSizeKB:         max(r.cfg.BufferSizeKB, MinBufferSizeKB),
		DataSources:          []string{TrackEventDataSource},
		DisableServiceEvents: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start tracing session: %w", err)
	}
	r.session = session
	r.files = files
	r.saveError = nil

	log.Infof("Tracing started: host file %s, guest file %q, combined file %q",
		files.host, files.guest, files.combined)
	return nil
}

// DisableTracing stops the session. With guest and combined file names configured an
// asynchronous saver merges the traces; otherwise only the host trace is written, before
// DisableTracing returns. It does nothing while tracing is disabled or a saver is running.
func (r *Recorder) DisableTracing() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.isSavingLocked() {
		return nil
	}
	session := r.session
	r.session = nil

	host, err := session.Stop()
	if err != nil {
		return fmt.Errorf("failed to stop tracing session: %w", err)
	}
	log.Infof("Tracing stopped, %d bytes recorded", len(host))

	if r.files.guest == "" || r.files.combined == "" {
		log.Infof("Skipping combined trace, guest file %q combined file %q",
			r.files.guest, r.files.combined)
		return combiner.WriteFileAtomic(r.files.host, host)
	}

	s := &saver{
		files: r.files,
		host:  host,
		opts:  r.combineOptions(),
		times: r.times,
	}
	done := make(chan struct{})
	r.saving = done
	go func() {
		err := s.run(r.ctx)
		if err != nil {
			log.Errorf("Failed to save traces: %v", err)
		}
		r.mu.Lock()
		r.saveError = err
		r.saving = nil
		r.mu.Unlock()
		close(done)
	}()
	return nil
}

func (r *Recorder) combineOptions() combiner.Options {
	opts := combiner.Options{
		Strategy:           clocksync.StrategyCPUCounter,
		GuestTSCOffset:     r.cfg.GuestTSCOffset,
		MergeGuestIntoHost: r.cfg.MergeGuestIntoHost,
		Sink:               r.cfg.Sink,
	}
	if r.hasGuestTime {
		opts.Strategy = clocksync.StrategyExplicit
		opts.TimeDiffNs = clocksync.SignedDiff(r.guestTimeNs, r.hostTimeNs)
	}
	return opts
}

func (r *Recorder) isSavingLocked() bool {
	return r.saving != nil
}

// Saving reports whether an asynchronous saver is running.
func (r *Recorder) Saving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isSavingLocked()
}

// WaitSavingDone blocks until the running saver, if any, finished and returns the error of
// the last save.
func (r *Recorder) WaitSavingDone() error {
	r.mu.Lock()
	done := r.saving
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveError
}

// Close abandons a running saver and waits for it to exit. A session that is still open
// is discarded.
func (r *Recorder) Close() error {
	r.cancel()
	err := r.WaitSavingDone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		_, _ = r.session.Stop()
		r.session = nil
	}
	return err
}

func (r *Recorder) writer() (EventWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.session.(EventWriter)
	return w, ok
}

// BeginSlice opens a slice on the host process track. It does nothing while tracing is
// disabled.
func (r *Recorder) BeginSlice(name string) error {
	if w, ok := r.writer(); ok {
		return w.BeginSlice(name)
	}
	return nil
}

// EndSlice closes the innermost open slice.
func (r *Recorder) EndSlice() error {
	if w, ok := r.writer(); ok {
		return w.EndSlice()
	}
	return nil
}

// Counter records a value on the named counter track.
func (r *Recorder) Counter(name string, value int64) error {
	if w, ok := r.writer(); ok {
		return w.Counter(name, value)
	}
	return nil
}
