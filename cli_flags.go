// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/vmtrace/combiner"
	"go.opentelemetry.io/vmtrace/internal/controller"
)

const (
	envVarPrefix = "VPERFETTO"

	usage = "Usage: %s <guest-file> <host-file> <combined-file> [<guest-boot-time-ns>] " +
		"[flags]\n\nFlags:\n"
)

// Help strings for command line arguments
var (
	guestTSCOffsetHelp = "Offset added by the hypervisor to guest CPU counter (TSC) " +
		"readings. Used to align guest and host clock sync records."
	mergeGuestIntoHostHelp = "Pass the host trace through unchanged and shift the guest " +
		"trace onto the host clock instead of the other way round."
	guestTimeDiffHelp = "Guest minus host clock offset in nanoseconds. Skips clock " +
		"reconciliation from the traces."
	gzipHelp        = "Gzip compress the combined trace."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config

	fs := flag.NewFlagSet("combine", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.Int64Var(&cfg.GuestTimeDiffNs, "guest-time-diff", 0, guestTimeDiffHelp)
	fs.Int64Var(&cfg.GuestTSCOffset, "guest-tsc-offset", 0, guestTSCOffsetHelp)

	fs.BoolVar(&cfg.Compress, "gzip", false, gzipHelp)

	fs.BoolVar(&cfg.MergeGuestIntoHost, "merge-guest-into-host", false,
		mergeGuestIntoHostHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usage, fs.Name())
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(envVarPrefix)); err != nil {
		return nil, err
	}

	// Positional arguments may be interleaved with flags.
	var positional []string
	for rest := fs.Args(); len(rest) > 0; rest = fs.Args() {
		positional = append(positional, rest[0])
		if err := fs.Parse(rest[1:]); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "guest-time-diff" {
			cfg.HasGuestTimeDiff = true
		}
	})

	if cfg.Version {
		return &cfg, nil
	}
	if err := setPositional(&cfg, positional); err != nil {
		fs.SetOutput(os.Stderr)
		fs.Usage()
		return nil, err
	}
	return &cfg, nil
}

func setPositional(cfg *controller.Config, positional []string) error {
	if len(positional) < 3 || len(positional) > 4 {
		return fmt.Errorf("%w: expected 3 or 4 positional arguments, got %d",
			combiner.ErrInvalidArgument, len(positional))
	}
	cfg.GuestFile, cfg.HostFile, cfg.CombinedFile = positional[0], positional[1], positional[2]
	if len(positional) == 4 {
		bootTime, err := strconv.ParseUint(positional[3], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: guest boot time %q: %v", combiner.ErrInvalidArgument,
				positional[3], err)
		}
		cfg.GuestBootTimeNs = bootTime
		cfg.HasGuestBootTime = true
	}
	return nil
}
