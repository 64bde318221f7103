// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package walker // import "go.opentelemetry.io/vmtrace/walker"

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/tracepb"
)

// Option configures WalkIDs.
type Option func(*config)

type config struct {
	sink     diag.Sink
	reserved map[uint64]struct{}
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.sink = diag.OrDefault(cfg.sink)
	return cfg
}

// WithSink routes dangling uuid warnings to s instead of the process logger.
func WithSink(s diag.Sink) Option {
	return func(c *config) { c.sink = s }
}

// WithReservedUUIDs keeps newly allocated uuids out of the given set, typically the uuids
// of the trace the walked one is merged into.
func WithReservedUUIDs(uuids map[uint64]struct{}) Option {
	return func(c *config) { c.reserved = uuids }
}

// uuidRemapper collects the descriptors whose identity changed and rewrites their uuids
// once the identifier pass is complete.
type uuidRemapper struct {
	cfg *config
	// known holds every descriptor uuid seen in the walked trace.
	known map[uint64]struct{}
	// stale lists the uuids to replace in discovery order.
	stale []uint64
	// mapping is old uuid to new uuid.
	mapping map[uint64]uint64
}

func newUUIDRemapper(cfg *config) *uuidRemapper {
	return &uuidRemapper{
		cfg:     cfg,
		known:   make(map[uint64]struct{}),
		mapping: make(map[uint64]uint64),
	}
}

func (r *uuidRemapper) addDescriptor(uuid uint64, changed bool) {
	r.known[uuid] = struct{}{}
	if !changed {
		return
	}
	if _, ok := r.mapping[uuid]; ok {
		return
	}
	r.mapping[uuid] = 0
	r.stale = append(r.stale, uuid)
}

func (r *uuidRemapper) taken(uuid uint64) bool {
	if uuid == 0 {
		return true
	}
	if _, ok := r.known[uuid]; ok {
		return true
	}
	_, ok := r.cfg.reserved[uuid]
	return ok
}

// allocate derives a fresh uuid from old. The salt is bumped until the result collides with
// no uuid of either trace and no uuid allocated before.
func (r *uuidRemapper) allocate(old uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], old)
	for salt := uint64(1); ; salt++ {
		uuid := xxh3.HashSeed(buf[:], salt)
		if !r.taken(uuid) {
			return uuid
		}
	}
}

// apply rewrites the stale uuids and reports references to uuids without a descriptor.
// The reference check runs even if no descriptor changed.
func (r *uuidRemapper) apply(t *tracepb.Trace) int {
	for _, old := range r.stale {
		uuid := r.allocate(old)
		r.mapping[old] = uuid
		// Later allocations must not hand out the same value again.
		r.known[uuid] = struct{}{}
	}
	if len(r.stale) > 0 {
		log.Debugf("Remapping %d track uuids", len(r.stale))
	}

	warned := make(map[uint64]struct{})
	WalkUUIDs(t, func(uuid uint64) uint64 {
		if next, ok := r.mapping[uuid]; ok {
			return next
		}
		if _, ok := r.known[uuid]; !ok {
			if _, ok := warned[uuid]; !ok {
				warned[uuid] = struct{}{}
				r.cfg.sink.Warn(fmt.Errorf("%w: %d", diag.ErrUUIDDangling, uuid))
			}
		}
		return uuid
	})
	return len(r.stale)
}
