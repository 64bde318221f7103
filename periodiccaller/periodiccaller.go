// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "go.opentelemetry.io/vmtrace/periodiccaller"

import (
	"context"
	"time"
)

// Start starts a timer that calls <callback> every <interval> until <callback> returns false
// or <ctx> is canceled. The returned channel is closed once the timer goroutine exited.
func Start(ctx context.Context, interval time.Duration, callback func() bool) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !callback() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return done
}
