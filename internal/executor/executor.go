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

// Package executor consumes Work Queue descriptors and performs the
// outbound webhook call, finalizing the event's terminal state and
// materializing its successor on success.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/lifecycle"
	"github.com/pradok/events-scheduler-sub002/internal/materializer"
	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
	"github.com/pradok/events-scheduler-sub002/internal/txn"
)

// outcome classifies a webhook response or transport error per
// spec.md §4.5 step 3.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomePermanentFailure
	outcomeTransientFailure
)

// Executor implements spec.md §4.5's process(descriptor) operation.
type Executor struct {
	eventStore     store.EventStore
	txRunner       txn.Runner
	httpClient     *http.Client
	clock          timeservice.Clock
	backoff        []time.Duration
	webhookTimeout time.Duration
	graceWindow    time.Duration
}

// New constructs an Executor. txRunner opens the single transaction
// that finalizes the event and materializes its successor atomically;
// eventStore is used for the non-transactional initial load at step 1.
// backoff corresponds to webhookRetryBackoffMillisSequence (default
// [1s, 2s, 4s]); its length also bounds the total attempt count (3 for
// the default). webhookTimeout corresponds to webhookTimeoutMillis;
// graceWindow corresponds to lateExecutionGraceMillis.
func New(
	eventStore store.EventStore, txRunner txn.Runner, httpClient *http.Client, clock timeservice.Clock,
	backoff []time.Duration, webhookTimeout, graceWindow time.Duration,
) *Executor {
	return &Executor{
		eventStore:     eventStore,
		txRunner:       txRunner,
		httpClient:     httpClient,
		clock:          clock,
		backoff:        backoff,
		webhookTimeout: webhookTimeout,
		graceWindow:    graceWindow,
	}
}

// webhookBody is the JSON body sent to deliveryPayload.webhookUrl, per
// spec.md §6.
type webhookBody struct {
	Message string `json:"message"`
}

// Process implements spec.md §4.5. A nil return means the caller
// should acknowledge the queue message (the terminal transition
// committed, or there was nothing to do). A non-nil return means the
// caller must NOT acknowledge: the event is still PROCESSING and the
// queue's own redrive (or the Recovery watchdog) will bring it back.
func (x *Executor) Process(ctx context.Context, d queue.Descriptor) error {
	e, err := x.eventStore.FindByID(ctx, d.EventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.WithField("event_id", d.EventID).Info("executor: event no longer exists, acknowledging")
			return nil
		}
		return errors.Wrap(err, "load event")
	}

	if e.Status != store.StatusProcessing {
		log.WithFields(log.Fields{"event_id": e.ID, "status": e.Status}).
			Info("executor: descriptor is a duplicate or late delivery, acknowledging without side effects")
		return nil
	}

	x.logIfLate(e)

	result := x.invokeWebhook(ctx, e)

	switch result.outcome {
	case outcomeSuccess:
		return x.finalizeSuccess(ctx, e.ID)
	case outcomePermanentFailure:
		return x.finalizeFailure(ctx, e.ID, result.failureReason)
	default:
		return errors.Wrap(result.err, "webhook delivery exhausted retries")
	}
}

// Run drives Receive/Process/Ack against q on a tight poll loop until
// lc is stopped, mirroring the Scheduler's Run shape
// (internal/scheduler.Scheduler.Run). A message is Ack'd only when
// Process returns nil; a non-nil error leaves it for the queue's own
// redrive or the Recovery watchdog, so Run deliberately does not retry
// Process itself.
func (x *Executor) Run(lc *lifecycle.Context, q queue.Queue, batchSize int) {
	lc.Go(func() error {
		for {
			select {
			case <-lc.Stopping():
				return nil
			default:
			}

			messages, err := q.Receive(lc, batchSize)
			if err != nil {
				log.WithError(err).Warn("executor: receive failed")
				continue
			}
			if len(messages) == 0 {
				// sqs.Queue.Receive already long-polls for several
				// seconds; this sleep only matters for inmemory.Queue,
				// whose Receive returns immediately when empty.
				time.Sleep(time.Second)
				continue
			}

			for _, m := range messages {
				if err := x.Process(lc, m.Descriptor); err != nil {
					log.WithError(err).WithField("event_id", m.Descriptor.EventID).
						Warn("executor: process failed, leaving for redrive")
					continue
				}
				if err := q.Ack(lc, m); err != nil {
					log.WithError(err).WithField("event_id", m.Descriptor.EventID).
						Warn("executor: ack failed")
				}
			}
		}
	})
}

// logIfLate implements spec.md §4.5's "Late-execution signalling".
func (x *Executor) logIfLate(e *store.Event) {
	lag := x.clock.Now().Sub(e.TargetTimestampUTC)
	if lag <= x.graceWindow {
		return
	}
	lateExecutions.Inc()
	log.WithFields(log.Fields{
		"event_id":        e.ID,
		"lateExecution":   true,
		"origTarget":      e.TargetTimestampUTC,
		"actualExecution": x.clock.Now(),
	}).Warn("executor: processing event past its late-execution grace window")
}

type webhookResult struct {
	outcome       outcome
	failureReason string
	err           error
}

// invokeWebhook implements spec.md §4.5 steps 2-4: POST with the
// idempotency key, classify the response, and retry transient
// failures with the configured backoff, reusing the same key on every
// attempt.
func (x *Executor) invokeWebhook(ctx context.Context, e *store.Event) webhookResult {
	body, err := json.Marshal(webhookBody{Message: e.DeliveryPayload.Message})
	if err != nil {
		return webhookResult{outcome: outcomePermanentFailure, failureReason: "marshal webhook body: " + err.Error()}
	}

	// spec.md §4.5 step 4: up to len(backoff) total attempts, with
	// backoff[i-1] as the delay before attempt i. With the default
	// three-element sequence [1s, 2s, 4s] that means 3 attempts using
	// only the first two delays — the third entry describes what a
	// further attempt would wait, but a fourth attempt never happens.
	attempts := len(x.backoff)
	var last webhookResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return webhookResult{outcome: outcomeTransientFailure, err: ctx.Err()}
			case <-time.After(x.backoff[attempt-1]):
			}
		}

		last = x.attemptOnce(ctx, e, body)
		webhookAttempts.WithLabelValues(outcomeLabel(last.outcome)).Inc()
		if last.outcome != outcomeTransientFailure {
			return last
		}
	}
	return last
}

func (x *Executor) attemptOnce(ctx context.Context, e *store.Event, body []byte) webhookResult {
	attemptCtx, cancel := context.WithTimeout(ctx, x.webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, e.DeliveryPayload.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return webhookResult{outcome: outcomePermanentFailure, failureReason: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", e.IdempotencyKey)

	start := time.Now()
	resp, err := x.httpClient.Do(req)
	webhookDurations.Observe(time.Since(start).Seconds())
	if err != nil {
		// Network/timeout errors are always transient per spec.md §4.5 step 3.
		return webhookResult{outcome: outcomeTransientFailure, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return webhookResult{outcome: outcomeSuccess}
	}

	truncated := readTruncatedBody(resp.Body)
	reason := fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, truncated)

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return webhookResult{outcome: outcomeTransientFailure, err: errors.New(reason), failureReason: reason}
	}
	return webhookResult{outcome: outcomePermanentFailure, failureReason: reason}
}

const maxFailureReasonBodyBytes = 512

func readTruncatedBody(r io.Reader) string {
	limited := io.LimitReader(r, maxFailureReasonBodyBytes)
	b, _ := io.ReadAll(limited)
	return string(b)
}

func outcomeLabel(o outcome) string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomePermanentFailure:
		return "permanent_failure"
	default:
		return "transient_failure"
	}
}

// finalizeSuccess implements spec.md §4.5 step 5: in one transaction,
// re-read the event, optimistic-update it to COMPLETED, and if it is
// a BIRTHDAY event materialize the successor. A lost optimistic-lock
// race means another worker already finished this event; that is not
// an error.
func (x *Executor) finalizeSuccess(ctx context.Context, eventID string) error {
	err := x.txRunner.Do(ctx, func(ctx context.Context, events store.EventStore, owners owner.Repository) error {
		fresh, err := events.FindByID(ctx, eventID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "reload event for completion")
		}
		if fresh.Status != store.StatusProcessing {
			return nil
		}

		now := x.clock.Now()
		fresh.Status = store.StatusCompleted
		fresh.ExecutedAt = &now
		if err := events.Update(ctx, fresh); err != nil {
			if _, ok := store.IsOptimisticLockConflict(err); ok {
				return nil
			}
			return errors.Wrap(err, "mark event completed")
		}

		if fresh.EventType == store.EventTypeBirthday {
			o, err := owners.FindByID(ctx, fresh.OwnerID)
			if err != nil {
				if errors.Is(err, owner.ErrNotFound) {
					// Owner deleted concurrently; no successor to materialize.
					return nil
				}
				return errors.Wrap(err, "load owner for successor materialization")
			}
			if err := materializer.Materialize(ctx, events, x.clock, o, fresh.EventType, materializer.ReasonSuccessorOfCompleted); err != nil {
				successorMaterializeFailures.Inc()
				return errors.Wrap(err, "materialize successor event")
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "finalize success transaction")
	}
	return nil
}

// finalizeFailure implements spec.md §4.5 step 6.
func (x *Executor) finalizeFailure(ctx context.Context, eventID, failureReason string) error {
	err := x.txRunner.Do(ctx, func(ctx context.Context, events store.EventStore, _ owner.Repository) error {
		fresh, err := events.FindByID(ctx, eventID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "reload event for failure")
		}
		if fresh.Status != store.StatusProcessing {
			return nil
		}

		fresh.Status = store.StatusFailed
		fresh.FailureReason = &failureReason
		if err := events.Update(ctx, fresh); err != nil {
			if _, ok := store.IsOptimisticLockConflict(err); ok {
				return nil
			}
			return errors.Wrap(err, "mark event failed")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "finalize failure transaction")
	}
	return nil
}
