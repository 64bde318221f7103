// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clocksync computes the signed nanosecond offset between the guest and the host
// clock domain of two traces.
//
// The offset is guest relative to host: a host timestamp shifted by the offset lands on the
// guest clock, and a guest timestamp shifted by its negation lands on the host clock.
package clocksync // import "go.opentelemetry.io/vmtrace/clocksync"

import (
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/diag"
	"go.opentelemetry.io/vmtrace/tracepb"
)

const (
	// maxPlausibleOffset is the offset magnitude above which a misconfiguration is assumed.
	maxPlausibleOffset = 10 * time.Second
	// maxRateMismatch is the tolerated relative difference of guest and host counter rates.
	maxRateMismatch = 0.0001
)

// Strategy selects how the clock offset is obtained.
type Strategy int

const (
	// StrategyNone means no offset could be derived and zero is used.
	StrategyNone Strategy = iota
	// StrategyExplicit uses a caller supplied offset.
	StrategyExplicit
	// StrategyBootTime anchors a guest clock reading against the first host timestamp.
	StrategyBootTime
	// StrategyCPUCounter correlates CPU counter readings embedded in both traces.
	StrategyCPUCounter
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyExplicit:
		return "explicit"
	case StrategyBootTime:
		return "boot-time"
	case StrategyCPUCounter:
		return "cpu-counter"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Request holds the inputs of Reconcile.
type Request struct {
	Strategy Strategy
	// TimeDiffNs is the offset used by StrategyExplicit.
	TimeDiffNs int64
	// GuestBootTimeNs is a guest clock reading taken when host tracing started. It is used
	// by StrategyBootTime, and by the boot-time fallback of StrategyCPUCounter when set.
	GuestBootTimeNs  uint64
	HasGuestBootTime bool
	// GuestTSCOffset is subtracted from guest CPU counter readings to move them into the
	// host counter domain.
	GuestTSCOffset int64
}

// Result is the outcome of Reconcile.
type Result struct {
	OffsetNs int64
	// Strategy is the strategy that produced OffsetNs, which differs from the requested one
	// after a fallback.
	Strategy Strategy
}

// SignedDiff returns a-b as a signed value, saturating the magnitude at math.MaxInt64.
func SignedDiff(a, b uint64) int64 {
	if a >= b {
		d := a - b
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := b - a
	if d > math.MaxInt64 {
		return -math.MaxInt64
	}
	return -int64(d)
}

// roundNs rounds f to the nearest integer, saturating the magnitude at math.MaxInt64.
func roundNs(f float64) int64 {
	r := math.Round(f)
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt64:
		return math.MaxInt64
	case r <= -math.MaxInt64:
		return -math.MaxInt64
	}
	return int64(r)
}

// addNs returns a+b, saturating the magnitude at math.MaxInt64 like SignedDiff.
func addNs(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0, s == math.MinInt64:
		return -math.MaxInt64
	}
	return s
}

// FirstTimestamp returns the timestamp of the first packet of t that carries one.
func FirstTimestamp(t *tracepb.Trace) (uint64, bool) {
	for _, p := range t.Packets() {
		if ts, ok := p.Uint64(tracepb.PacketTimestamp); ok {
			return ts, true
		}
	}
	return 0, false
}

// Reconcile computes the guest-to-host clock offset using the requested strategy. Strategies
// that lack data fall back in the order cpu-counter, boot-time, zero. Every fallback and
// every implausible result is reported to sink as diag.ErrSyncDegraded.
func Reconcile(guest, host *tracepb.Trace, req Request, sink diag.Sink) Result {
	sink = diag.OrDefault(sink)

	var res Result
	switch req.Strategy {
	case StrategyExplicit:
		res = Result{OffsetNs: req.TimeDiffNs, Strategy: StrategyExplicit}
	case StrategyBootTime:
		res = bootTime(guest, host, req, sink)
	case StrategyCPUCounter:
		var err error
		res, err = cpuCounter(guest, host, req, sink)
		if err != nil {
			sink.Warn(fmt.Errorf("%w: cpu counter sync: %v, falling back to boot time",
				diag.ErrSyncDegraded, err))
			res = bootTime(guest, host, req, sink)
		}
	default:
		res = Result{Strategy: StrategyNone}
	}

	if d := time.Duration(res.OffsetNs); d > maxPlausibleOffset || d < -maxPlausibleOffset {
		sink.Warn(fmt.Errorf("%w: clock offset %v exceeds %v", diag.ErrSyncDegraded, d,
			maxPlausibleOffset))
	}
	log.Debugf("Clock offset %dns (%s)", res.OffsetNs, res.Strategy)
	return res
}

// bootTime anchors the guest boot time, or the first guest timestamp when none was given,
// against the first host timestamp.
func bootTime(guest, host *tracepb.Trace, req Request, sink diag.Sink) Result {
	h0, ok := FirstTimestamp(host)
	if !ok {
		sink.Warn(fmt.Errorf("%w: host trace has no timestamped packet, using zero offset",
			diag.ErrSyncDegraded))
		return Result{Strategy: StrategyNone}
	}

	g0, ok := req.GuestBootTimeNs, req.HasGuestBootTime
	if !ok {
		g0, ok = FirstTimestamp(guest)
		if !ok {
			sink.Warn(fmt.Errorf("%w: no guest boot time and guest trace has no "+
				"timestamped packet, using zero offset", diag.ErrSyncDegraded))
			return Result{Strategy: StrategyNone}
		}
		log.Debugf("Using first guest timestamp %d as guest boot time", g0)
	}
	return Result{OffsetNs: SignedDiff(g0, h0), Strategy: StrategyBootTime}
}

// pickReference returns the reference clock used for correlation: boot time when the host
// has a usable pair on it, the first clock with a usable pair otherwise.
func pickReference(groups map[uint32]*pair, order []uint32) (uint32, float64, bool) {
	if g, ok := groups[tracepb.ClockBoottime]; ok {
		if cpn, ok := g.cyclesPerNs(); ok {
			return tracepb.ClockBoottime, cpn, true
		}
	}
	for _, id := range order {
		if cpn, ok := groups[id].cyclesPerNs(); ok {
			return id, cpn, true
		}
	}
	return 0, 0, false
}

func cpuCounter(guest, host *tracepb.Trace, req Request, sink diag.Sink) (Result, error) {
	hostGroups, hostOrder := groupByClock(CollectSyncRecords(host))
	if len(hostGroups) == 0 {
		return Result{}, errors.New("host trace has no sync records")
	}
	ref, hostCPN, ok := pickReference(hostGroups, hostOrder)
	if !ok {
		return Result{}, errors.New("host trace has no two sync records on a common clock")
	}

	guestGroups, _ := groupByClock(CollectSyncRecords(guest))
	guestPair, ok := guestGroups[ref]
	if !ok {
		return Result{}, fmt.Errorf("guest trace has no sync record on reference clock %d", ref)
	}
	if guestCPN, ok := guestPair.cyclesPerNs(); ok {
		if mismatch := math.Abs(guestCPN-hostCPN) / hostCPN; mismatch > maxRateMismatch {
			sink.Warn(fmt.Errorf("%w: guest counter rate %.6f differs from host rate %.6f "+
				"cycles/ns", diag.ErrSyncDegraded, guestCPN, hostCPN))
		}
	}

	h := hostGroups[ref].last
	g := guestPair.last
	guestCPU := g.CPU - uint64(req.GuestTSCOffset)
	cyclesDelta := SignedDiff(h.CPU, guestCPU)
	offsetNs := roundNs(float64(cyclesDelta) / hostCPN)
	delta := addNs(SignedDiff(g.Ref, h.Ref), offsetNs)

	log.Debugf("CPU counter sync on clock %d: %.6f cycles/ns, %d cycles apart", ref,
		hostCPN, cyclesDelta)
	return Result{OffsetNs: delta, Strategy: StrategyCPUCounter}, nil
}
