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

// Package store is the durable Event Store: a Postgres-backed table of
// event rows with lifecycle status, an optimistic-lock version counter,
// a deterministic idempotency key, and the target UTC instant the
// Scheduler claims against.
package store

import "time"

// Status is the lifecycle stage of an Event. The only legal transitions
// are PENDING->PROCESSING, PROCESSING->COMPLETED, PROCESSING->FAILED,
// PROCESSING->PENDING (the Recovery watchdog's reclaim of a stuck
// row), and PENDING->PENDING (an in-place reschedule). COMPLETED and FAILED are terminal: no transition out of either
// is ever legal. See legalTransitions and CanTransitionTo below.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// EventType tags which EventTypeHandler materialized and will process a
// row. The MVP registers only EventTypeBirthday.
type EventType string

const EventTypeBirthday EventType = "BIRTHDAY"

// DeliveryPayload is the body the Executor sends to the owner's webhook.
type DeliveryPayload struct {
	Message    string `json:"message"`
	WebhookURL string `json:"webhookUrl"`
}

// Event is one row of the Event Store. TargetTimestampUTC is the only
// timestamp the claim query and the recovery sweep reason about;
// TargetTimestampLocal is retained purely for operator-facing audit and
// is never compared against.
type Event struct {
	ID                   string
	OwnerID              string
	EventType            EventType
	TargetTimestampUTC   time.Time
	TargetTimestampLocal *time.Time
	TargetTimezone       string
	Status               Status
	Version              int64
	IdempotencyKey       string
	DeliveryPayload      DeliveryPayload
	ExecutedAt           *time.Time
	FailureReason        *string
	RetryCount           int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsTerminal reports whether e is in a state the Materializer and
// Recovery Sweep must leave alone.
func (e *Event) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// legalTransitions enumerates every status move pgStore.Update is
// allowed to persist, per spec.md §3 ("Any other transition is
// rejected at the domain layer and the store layer") and Testable
// Property #3 ("an event's status never regresses"). PENDING->PENDING
// is included because the Materializer's reschedulePending rewrites a
// still-PENDING row's target instant without changing its status.
// COMPLETED and FAILED have no entry: both are terminal, so every move
// out of either is rejected, including back to PENDING.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusPending: true, StatusProcessing: true},
	StatusProcessing: {StatusPending: true, StatusCompleted: true, StatusFailed: true},
}

// CanTransitionTo reports whether moving from e.Status to next is a
// legal transition. This is the domain-layer half of the
// double-enforced invariant spec.md §3 requires; pgStore.Update
// consults the same legalTransitions table a second time, independently,
// against the row's actual persisted status, so an illegal transition
// is rejected even if a caller forgot to check first.
func (e *Event) CanTransitionTo(next Status) bool {
	return legalTransitions[e.Status][next]
}

// allowedPredecessors returns every status a row may legally be in for
// a write that moves it to next to succeed — the reverse of
// legalTransitions. pgStore.Update binds this into its UPDATE
// statement's WHERE clause so the database itself refuses to persist
// an illegal transition, independent of whatever the calling Go code
// already checked.
func allowedPredecessors(next Status) []Status {
	var from []Status
	for status, nexts := range legalTransitions {
		if nexts[next] {
			from = append(from, status)
		}
	}
	return from
}
