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

// Package inmemory is a mutex-guarded, in-process Queue double that
// reproduces SQS's at-least-once, visibility-timeout, and
// max-receive/dead-letter-queue semantics, so unit tests and the
// single-process run mode can exercise the Scheduler/Executor contract
// without AWS. The guarded-map-plus-TTL shape is grounded on
// other_examples' idempotency_cache.go, adapted here to expire message
// *visibility* rather than an idempotency result.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
)

// entry is one descriptor's lifecycle state inside the queue.
type entry struct {
	descriptor   queue.Descriptor
	receiveCount int
	inFlight     bool
	visibleAt    time.Time
}

// Queue is a channel-free, map-backed Work Queue double. Visibility
// and redrive are evaluated lazily on Receive rather than by a
// background goroutine, since the only consumer is test code and the
// single-process run loop, both of which call Receive on their own
// cadence anyway.
type Queue struct {
	mu                sync.Mutex
	clock             timeservice.Clock
	visibilityTimeout time.Duration
	maxReceiveCount   int
	entries           map[string]*entry
	order             []string // preserves publish order for FIFO-ish delivery
	dlq               *Queue   // nil for a queue that is itself a DLQ
}

// New constructs an in-memory Queue. dlq may be nil, in which case
// messages that exhaust maxReceiveCount are simply dropped (still
// counted in queue.RedriveToDLQCount) rather than redelivered.
func New(clock timeservice.Clock, visibilityTimeout time.Duration, maxReceiveCount int, dlq *Queue) *Queue {
	return &Queue{
		clock:             clock,
		visibilityTimeout: visibilityTimeout,
		maxReceiveCount:   maxReceiveCount,
		entries:           map[string]*entry{},
		dlq:               dlq,
	}
}

var _ queue.Queue = (*Queue)(nil)

// Publish implements queue.Queue.
func (q *Queue) Publish(_ context.Context, d queue.Descriptor) error {
	start := time.Now()
	defer func() { queue.PublishDurations.Observe(time.Since(start).Seconds()) }()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishLocked(d)
	return nil
}

// PublishBatch implements queue.Queue.
func (q *Queue) PublishBatch(_ context.Context, ds []queue.Descriptor) error {
	start := time.Now()
	defer func() { queue.PublishDurations.Observe(time.Since(start).Seconds()) }()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range ds {
		q.publishLocked(d)
	}
	return nil
}

func (q *Queue) publishLocked(d queue.Descriptor) {
	id := uuid.NewString()
	q.entries[id] = &entry{descriptor: d}
	q.order = append(q.order, id)
}

// Receive implements queue.Queue. Entries that have exhausted
// maxReceiveCount are redirected to the DLQ (if any) instead of being
// returned.
func (q *Queue) Receive(_ context.Context, max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var out []queue.Message
	var remainingOrder []string

	for _, id := range q.order {
		e, ok := q.entries[id]
		if !ok {
			continue
		}

		available := !e.inFlight || now.After(e.visibleAt) || now.Equal(e.visibleAt)
		if !available {
			remainingOrder = append(remainingOrder, id)
			continue
		}

		if e.receiveCount >= q.maxReceiveCount {
			q.redriveLocked(id, e)
			continue
		}

		if len(out) >= max {
			remainingOrder = append(remainingOrder, id)
			continue
		}

		e.inFlight = true
		e.receiveCount++
		e.visibleAt = now.Add(q.visibilityTimeout)
		out = append(out, queue.Message{Descriptor: e.descriptor, AckToken: id})
		remainingOrder = append(remainingOrder, id)
	}

	q.order = remainingOrder
	queue.ReceiveCount.Add(float64(len(out)))
	return out, nil
}

func (q *Queue) redriveLocked(id string, e *entry) {
	delete(q.entries, id)
	queue.RedriveToDLQCount.Inc()
	if q.dlq == nil {
		return
	}
	q.dlq.Publish(context.Background(), e.descriptor) //nolint:errcheck // in-memory Publish never errors
}

// Ack implements queue.Queue.
func (q *Queue) Ack(_ context.Context, m queue.Message) error {
	id, ok := m.AckToken.(string)
	if !ok {
		return errors.Errorf("inmemory: ack token %v is not a message id", m.AckToken)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

// Len reports the number of messages still held by the queue
// (available or in-flight), for test assertions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
