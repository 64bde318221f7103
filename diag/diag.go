// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package diag carries non-fatal diagnostics raised while combining traces.
package diag // import "go.opentelemetry.io/vmtrace/diag"

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrSyncDegraded reports that clock reconciliation fell back to a weaker strategy or
	// produced an implausible offset.
	ErrSyncDegraded = errors.New("clock sync degraded")
	// ErrUUIDDangling reports a track uuid reference without a matching track descriptor.
	ErrUUIDDangling = errors.New("dangling track uuid")
)

// Sink receives warnings. Implementations must not abort processing.
type Sink interface {
	Warn(err error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(err error)

func (f SinkFunc) Warn(err error) { f(err) }

// LogSink writes warnings to the process logger.
type LogSink struct{}

func (LogSink) Warn(err error) {
	log.Warn(err)
}

// Discard drops every warning.
var Discard Sink = SinkFunc(func(error) {})

// Collector records warnings and forwards them to an optional next sink.
type Collector struct {
	next Sink

	mu       sync.Mutex
	warnings []error
}

// NewCollector returns a Collector forwarding to next. A nil next only records.
func NewCollector(next Sink) *Collector {
	return &Collector{next: next}
}

func (c *Collector) Warn(err error) {
	c.mu.Lock()
	c.warnings = append(c.warnings, err)
	c.mu.Unlock()
	if c.next != nil {
		c.next.Warn(err)
	}
}

// Warnings returns the recorded warnings in the order they were raised.
func (c *Collector) Warnings() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Count returns how many recorded warnings match target according to errors.Is.
func (c *Collector) Count(target error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.warnings {
		if errors.Is(w, target) {
			n++
		}
	}
	return n
}

// OrDefault returns s, or a LogSink if s is nil.
func OrDefault(s Sink) Sink {
	if s == nil {
		return LogSink{}
	}
	return s
}
