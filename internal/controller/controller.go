// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/vmtrace/internal/controller"

import (
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/vmtrace/combiner"
)

// Controller is an instance that runs a single combine.
type Controller struct {
	config *Config
}

// New creates a new controller
func New(cfg *Config) *Controller {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Controller{config: cfg}
}

// Run validates the configuration and writes the combined trace. Failures are returned as
// ErrorWithExitCode.
func (c *Controller) Run() (*combiner.Result, error) {
	if err := c.config.Validate(); err != nil {
		return nil, NewErrorWithExitCode(err)
	}

	start := time.Now()
	opts := c.config.Options()
	log.Debugf("Combining with strategy %v", opts.Strategy)

	res, err := combiner.CombineFiles(c.config.GuestFile, c.config.HostFile,
		c.config.CombinedFile, opts)
	if err != nil {
		return nil, NewErrorWithExitCode(err)
	}

	if n := len(res.Warnings); n > 0 {
		log.Warnf("Combined with %d warnings", n)
	}
	log.Infof("Combined %d guest and host packets in %v (main ids %v, %d track uuids remapped)",
		res.MainPackets+res.AddonPackets, time.Since(start), res.Offsets, res.RemappedUUIDs)
	return res, nil
}
