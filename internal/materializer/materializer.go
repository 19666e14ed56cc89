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

package materializer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
)

// Reason names why Materialize was invoked, matching spec.md §4.3
// verbatim.
type Reason string

const (
	ReasonCreated              Reason = "created"
	ReasonBirthdayChanged      Reason = "birthdayChanged"
	ReasonTimezoneChanged      Reason = "timezoneChanged"
	ReasonSuccessorOfCompleted Reason = "successorOfCompleted"
)

// ErrUnknownEventType is returned if the registry has no handler for the
// event type a caller asked to materialize — only reachable if a new
// EventType constant is introduced without registering a handler.
var ErrUnknownEventType = errors.New("materializer: no handler registered for event type")

// Materialize implements spec.md §4.3's four-branch contract. eventStore
// must be bound (via store.Bind) to the same transaction the caller is
// using for any owner-row mutation, so the owner write and the event
// write(s) commit or roll back together. clock supplies "now" so that no
// part of the core reads the wall clock directly; production callers
// pass timeservice.SystemClock{}.
func Materialize(
	ctx context.Context, eventStore store.EventStore, clock timeservice.Clock,
	o *owner.Owner, eventType store.EventType, reason Reason,
) error {
	handler, ok := registry[eventType]
	if !ok {
		return errors.Wrapf(ErrUnknownEventType, "event type %q", eventType)
	}

	switch reason {
	case ReasonCreated, ReasonSuccessorOfCompleted:
		return materializeNew(ctx, eventStore, clock, handler, o)
	case ReasonBirthdayChanged, ReasonTimezoneChanged:
		return reschedulePending(ctx, eventStore, clock, handler, o, eventType)
	default:
		return errors.Errorf("materializer: unknown reason %q", reason)
	}
}

func materializeNew(
	ctx context.Context, eventStore store.EventStore, clock timeservice.Clock, handler EventTypeHandler, o *owner.Owner,
) error {
	target, err := handler.ComputeNextOccurrence(o, clock.Now())
	if err != nil {
		return errors.Wrap(err, "compute next occurrence")
	}

	e := &store.Event{
		OwnerID:            o.ID,
		EventType:          handler.EventType(),
		TargetTimestampUTC: target,
		TargetTimezone:     o.Timezone,
		Status:             store.StatusPending,
		IdempotencyKey:     handler.IdempotencyKey(o.ID, target),
		DeliveryPayload:    handler.ComposePayload(o),
	}
	if err := eventStore.Create(ctx, e); err != nil {
		return errors.Wrap(err, "create materialized event")
	}
	return nil
}

// reschedulePending implements branch 3 of spec.md §4.3: only PENDING
// rows move; PROCESSING/COMPLETED/FAILED rows are left untouched
// because they've already started or finished their lifecycle under the
// old schedule.
func reschedulePending(
	ctx context.Context, eventStore store.EventStore, clock timeservice.Clock,
	handler EventTypeHandler, o *owner.Owner, eventType store.EventType,
) error {
	pending := store.StatusPending
	events, err := eventStore.FindByOwnerID(ctx, o.ID, &pending)
	if err != nil {
		return errors.Wrap(err, "find pending events for reschedule")
	}

	target, err := handler.ComputeNextOccurrence(o, clock.Now())
	if err != nil {
		return errors.Wrap(err, "compute next occurrence")
	}

	for _, e := range events {
		if e.EventType != eventType {
			continue
		}
		e.TargetTimestampUTC = target
		e.TargetTimezone = o.Timezone
		e.IdempotencyKey = handler.IdempotencyKey(o.ID, target)
		if err := eventStore.Update(ctx, e); err != nil {
			// Setting a row's key to the value it already holds does not
			// conflict with the idempotency-key unique index, so an
			// unchanged reschedule succeeds; a duplicate-key error here
			// means another row already holds the new key, and it is
			// returned wrapped.
			return errors.Wrapf(err, "reschedule event %s", e.ID)
		}
	}
	return nil
}
