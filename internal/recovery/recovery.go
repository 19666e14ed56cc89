// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package recovery implements the two safety nets around the
// Scheduler/Executor claim loop: the startup Recovery Sweep (spec.md
// §4.6) that re-publishes PENDING rows whose target instant has
// already passed, and the stuck-PROCESSING watchdog (spec.md §9's open
// question, resolved in SPEC_FULL.md §10) that reclaims rows a crashed
// Scheduler left orphaned between claim commit and queue publish.
package recovery

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/lifecycle"
	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/store"
)

// Sweeper implements the Recovery Sweep. It never claims or transitions
// status itself — re-publishing a descriptor for a still-PENDING row
// is safe because the normal Scheduler tick's skip-locked claim is the
// only path that can move it to PROCESSING, so the sweep can never
// create a second claimant.
type Sweeper struct {
	eventStore store.EventStore
	queue      queue.Queue
	batchLimit int
}

// NewSweeper constructs a Sweeper. batchLimit corresponds to
// recoveryBatchLimit (default 1000 per spec.md §6).
func NewSweeper(eventStore store.EventStore, q queue.Queue, batchLimit int) *Sweeper {
	return &Sweeper{eventStore: eventStore, queue: q, batchLimit: batchLimit}
}

// sweepBudget bounds how long a single Sweep call may block process
// startup, per spec.md §4.6 point 4 ("MUST NOT block the Scheduler's
// first normal tick by more than 10 seconds"). If the scan or the
// publish hasn't finished within this budget, Sweep gives up rather
// than stall startup further. No cursor or resume state is needed to
// make that safe: every row Sweep would have found is still PENDING
// and past-due, and the Scheduler's own first normal tick runs the
// identical due-row query via ClaimReadyEvents, so the remainder is
// found "naturally" exactly as spec.md §4.6 point 4 says, with no
// help from Sweep required.
const sweepBudget = 10 * time.Second

// Sweep implements spec.md §4.6 steps 1-4.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { sweepDurations.Observe(time.Since(start).Seconds()) }()

	boundedCtx, cancel := context.WithTimeout(ctx, sweepBudget)
	defer cancel()

	missed, err := s.eventStore.FindMissedEvents(boundedCtx, s.batchLimit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("recovery: sweep scan exceeded its startup budget; leaving the remainder for the Scheduler's first tick")
			return nil
		}
		return errors.Wrap(err, "find missed events")
	}
	if len(missed) == 0 {
		log.Info("recovery: no missed events")
		return nil
	}

	descriptors := make([]queue.Descriptor, len(missed))
	for i, e := range missed {
		descriptors[i] = queue.Descriptor{
			EventID:        e.ID,
			EventType:      e.EventType,
			IdempotencyKey: e.IdempotencyKey,
			Metadata: queue.Metadata{
				OwnerID:            e.OwnerID,
				TargetTimestampUTC: e.TargetTimestampUTC,
				DeliveryPayload:    e.DeliveryPayload,
			},
		}
	}

	if err := s.queue.PublishBatch(boundedCtx, descriptors); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("recovery: sweep publish exceeded its startup budget; leaving the remainder for the Scheduler's first tick")
			return nil
		}
		sweepPublishFailures.Add(float64(len(descriptors)))
		return errors.Wrap(err, "publish missed event descriptors")
	}
	sweepPublished.Add(float64(len(descriptors)))

	oldest, newest := missed[0].TargetTimestampUTC, missed[len(missed)-1].TargetTimestampUTC
	log.WithFields(log.Fields{
		"count":  len(missed),
		"oldest": oldest,
		"newest": newest,
	}).Info("recovery: swept missed events")
	return nil
}

// Watchdog implements the stuck-PROCESSING reclaim resolved in
// SPEC_FULL.md §10.1: rows left in PROCESSING past staleAfter (by
// default 3x the queue's visibility timeout — long enough that both
// the original delivery and its redrive have certainly expired) are
// locked with FOR UPDATE SKIP LOCKED and moved back to PENDING so the
// normal claim path picks them up again.
type Watchdog struct {
	eventStore store.EventStore
	clock      interface{ Now() time.Time }
	staleAfter time.Duration
	batchLimit int
}

// NewWatchdog constructs a Watchdog. clock is any timeservice.Clock;
// the narrower structural interface here avoids importing
// internal/timeservice just for the method set.
func NewWatchdog(eventStore store.EventStore, clock interface{ Now() time.Time }, staleAfter time.Duration, batchLimit int) *Watchdog {
	return &Watchdog{eventStore: eventStore, clock: clock, staleAfter: staleAfter, batchLimit: batchLimit}
}

// Reclaim implements the watchdog's single pass.
func (w *Watchdog) Reclaim(ctx context.Context) error {
	start := time.Now()
	defer func() { reclaimDurations.Observe(time.Since(start).Seconds()) }()

	reclaimed, err := w.eventStore.ReclaimStuck(ctx, w.staleAfter, w.batchLimit, w.clock.Now())
	if err != nil {
		return errors.Wrap(err, "reclaim stuck events")
	}
	if len(reclaimed) == 0 {
		return nil
	}
	reclaimedCount.Add(float64(len(reclaimed)))
	for _, e := range reclaimed {
		log.WithFields(log.Fields{
			"event_id":    e.ID,
			"retry_count": e.RetryCount,
		}).Warn("recovery: reclaimed stuck PROCESSING event back to PENDING")
	}
	return nil
}

// Run drives Reclaim on a fixed interval until lc is stopped.
func (w *Watchdog) Run(lc *lifecycle.Context, interval time.Duration) {
	lc.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lc.Stopping():
				return nil
			case <-ticker.C:
				if err := w.Reclaim(lc); err != nil {
					log.WithError(err).Warn("recovery: reclaim failed")
				}
			}
		}
	})
}
