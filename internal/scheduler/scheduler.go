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

// Package scheduler drives the periodic claim loop: it atomically
// moves due PENDING events to PROCESSING and publishes a Work Queue
// descriptor for each. It never invokes the webhook itself — that is
// the Executor's job.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pradok/events-scheduler-sub002/internal/lifecycle"
	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
)

// Scheduler implements spec.md §4.4. It is safe to run multiple
// instances concurrently: the store's skip-locked claim is the sole
// coordination primitive.
type Scheduler struct {
	eventStore store.EventStore
	queue      queue.Queue
	clock      timeservice.Clock
	batchLimit int
}

// New constructs a Scheduler. batchLimit corresponds to
// claimBatchLimit (default 100 per spec.md §6).
func New(eventStore store.EventStore, q queue.Queue, clock timeservice.Clock, batchLimit int) *Scheduler {
	return &Scheduler{eventStore: eventStore, queue: q, clock: clock, batchLimit: batchLimit}
}

// Tick implements spec.md §4.4's operation tick(now): claim up to
// batchLimit due rows and publish one descriptor per row, ordered by
// TargetTimestampUTC ascending (ClaimReadyEvents already returns them
// in that order). A publish failure leaves its row in PROCESSING for
// the queue's own redrive or the Recovery watchdog to find; Tick never
// retries a publish itself.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() { tickDurations.Observe(time.Since(start).Seconds()) }()

	claimed, err := s.eventStore.ClaimReadyEvents(ctx, s.batchLimit, now)
	if err != nil {
		return err
	}
	eventsConsidered.Add(float64(s.batchLimit))
	eventsClaimed.Add(float64(len(claimed)))

	for _, e := range claimed {
		d := queue.Descriptor{
			EventID:        e.ID,
			EventType:      e.EventType,
			IdempotencyKey: e.IdempotencyKey,
			Metadata: queue.Metadata{
				OwnerID:            e.OwnerID,
				TargetTimestampUTC: e.TargetTimestampUTC,
				DeliveryPayload:    e.DeliveryPayload,
			},
		}
		if err := s.queue.Publish(ctx, d); err != nil {
			publishFailures.Inc()
			log.WithError(err).WithField("event_id", e.ID).
				Warn("scheduler: publish failed, leaving event in PROCESSING for redrive")
			continue
		}
	}
	return nil
}

// Run drives Tick on a fixed interval until lc is stopped. It is the
// "internal ticker in container/single-process mode" spec.md §6
// describes as one of the two valid periodic-trigger mechanisms; a
// managed external trigger (Lambda/cron) instead calls Tick directly
// and never constructs a Run loop.
func (s *Scheduler) Run(lc *lifecycle.Context, interval time.Duration) {
	lc.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lc.Stopping():
				return nil
			case <-ticker.C:
				if err := s.Tick(lc, s.clock.Now()); err != nil {
					log.WithError(err).Warn("scheduler: tick failed")
				}
			}
		}
	})
}
