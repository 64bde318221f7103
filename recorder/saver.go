// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package recorder // import "go.opentelemetry.io/vmtrace/recorder"

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/vmtrace/combiner"
	"go.opentelemetry.io/vmtrace/periodiccaller"
	"go.opentelemetry.io/vmtrace/times"
)

// ErrGuestTraceUnstable is returned by WaitSavingDone when the guest trace file did not
// reach a stable size in time. The host trace is written nonetheless.
var ErrGuestTraceUnstable = errors.New("guest trace file did not stabilize")

// saver writes the traces of a finished session once the guest trace file is complete.
type saver struct {
	files fileNames
	host  []byte
	opts  combiner.Options
	times times.IntervalsAndTimers
}

// sizeWatcher tracks the guest file size across polls.
type sizeWatcher struct {
	path   string
	last   int64
	stable int
	polls  int
}

// poll reports whether the file reached its final size.
func (w *sizeWatcher) poll(stablePolls int) bool {
	w.polls++
	var size int64
	if fi, err := os.Stat(w.path); err == nil {
		size = fi.Size()
	}
	switch {
	case size == 0:
		log.Debugf("Guest trace %s is empty, poll %d", w.path, w.polls)
	case size != w.last:
		log.Debugf("Guest trace %s size changed from %d to %d", w.path, w.last, size)
		w.last = size
		w.stable = 0
	default:
		w.stable++
	}
	return w.stable >= stablePolls
}

// waitForGuest blocks until the guest trace file has a stable size. It reports false when
// the poll budget ran out or ctx was canceled.
func (s *saver) waitForGuest(ctx context.Context) bool {
	w := &sizeWatcher{path: s.files.guest}
	maxPolls := s.times.GuestMaxPolls()
	stablePolls := s.times.GuestStablePolls()

	var stable bool
	<-periodiccaller.Start(ctx, s.times.GuestPollInterval(), func() bool {
		stable = w.poll(stablePolls)
		return !stable && w.polls < maxPolls
	})
	if stable {
		log.Debugf("Guest trace %s is stable at %d bytes after %d polls", w.path, w.last,
			w.polls)
	}
	return stable
}

func (s *saver) run(ctx context.Context) error {
	if !s.waitForGuest(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("Timed out waiting for guest trace %s, writing host trace only",
			s.files.guest)
		if err := combiner.WriteFileAtomic(s.files.host, s.host); err != nil {
			return err
		}
		return ErrGuestTraceUnstable
	}

	guest, err := combiner.ReadInput("guest", s.files.guest)
	if err != nil {
		return errors.Join(err, combiner.WriteFileAtomic(s.files.host, s.host))
	}
	res, err := combiner.Combine(guest, s.host, s.opts)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to combine traces: %w", err),
			combiner.WriteFileAtomic(s.files.host, s.host))
	}

	var g errgroup.Group
	g.Go(func() error {
		return combiner.WriteFileAtomic(s.files.host, s.host)
	})
	g.Go(func() error {
		return combiner.WriteFileAtomic(s.files.combined, res.Data)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Infof("Wrote combined trace %s (%d bytes, clock offset %d ns via %v)",
		s.files.combined, len(res.Data), res.OffsetNs, res.Strategy)
	return nil
}
