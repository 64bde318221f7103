// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/vmtrace/internal/controller"

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/clocksync"
	"go.opentelemetry.io/vmtrace/combiner"
)

type Config struct {
	GuestFile    string
	HostFile     string
	CombinedFile string

	// GuestBootTimeNs is the optional fourth positional argument.
	GuestBootTimeNs  uint64
	HasGuestBootTime bool
	// GuestTimeDiffNs is the guest minus host clock offset given with -guest-time-diff.
	GuestTimeDiffNs  int64
	HasGuestTimeDiff bool

	GuestTSCOffset     int64
	MergeGuestIntoHost bool
	Compress           bool

	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	log.Debugf("guest: %s host: %s combined: %s", cfg.GuestFile, cfg.HostFile,
		cfg.CombinedFile)
	if cfg.HasGuestBootTime {
		log.Debugf("guest boot time: %d", cfg.GuestBootTimeNs)
	}
	if cfg.Fs == nil {
		return
	}
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.GuestFile == "" || cfg.HostFile == "" || cfg.CombinedFile == "" {
		return fmt.Errorf("%w: guest, host and combined trace files are required",
			combiner.ErrInvalidArgument)
	}
	if cfg.HasGuestBootTime && cfg.HasGuestTimeDiff {
		return fmt.Errorf("%w: a guest boot time and -guest-time-diff are mutually exclusive",
			combiner.ErrInvalidArgument)
	}
	return nil
}

// Strategy returns the clock reconciliation strategy selected by the arguments.
func (cfg *Config) Strategy() clocksync.Strategy {
	switch {
	case cfg.HasGuestTimeDiff:
		return clocksync.StrategyExplicit
	case cfg.HasGuestBootTime:
		return clocksync.StrategyBootTime
	default:
		return clocksync.StrategyCPUCounter
	}
}

// Options returns the combiner options described by cfg.
func (cfg *Config) Options() combiner.Options {
	return combiner.Options{
		Strategy:           cfg.Strategy(),
		TimeDiffNs:         cfg.GuestTimeDiffNs,
		GuestBootTimeNs:    cfg.GuestBootTimeNs,
		HasGuestBootTime:   cfg.HasGuestBootTime,
		GuestTSCOffset:     cfg.GuestTSCOffset,
		MergeGuestIntoHost: cfg.MergeGuestIntoHost,
		Compress:           cfg.Compress,
	}
}
