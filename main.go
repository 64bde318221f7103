// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// The combine command merges a guest trace and a host trace recorded under a virtual
// machine monitor into one time-aligned trace.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/internal/controller"
	"go.opentelemetry.io/vmtrace/vc"
)

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return controller.ExitSuccess
		}
		log.Errorf("Failure to parse arguments: %v", err)
		return controller.ExitFailure
	}

	if cfg.Version {
		fmt.Println(vc.Summary())
		return controller.ExitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	log.Debugf("Starting combine %s", vc.Summary())
	if _, err := controller.New(cfg).Run(); err != nil {
		log.Error(err)
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			return exitErr.Code()
		}
		return controller.ExitFailure
	}
	return controller.ExitSuccess
}
