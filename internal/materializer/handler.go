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

// Package materializer translates an owner's current attributes into
// durable Event Store rows. It is the only thing that creates or
// reschedules events; the Scheduler and Executor only ever move an
// existing row through its lifecycle.
package materializer

import (
	"time"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
)

// EventTypeHandler is the fixed capability set every event type must
// provide. Variant dispatch over EventTypeHandler is a table lookup via
// a registry keyed on store.EventType, never a type switch or runtime
// subclassing.
type EventTypeHandler interface {
	// ComputeNextOccurrence delegates to the Time Service for this
	// event type's recurrence rule.
	ComputeNextOccurrence(o *owner.Owner, referenceInstant time.Time) (time.Time, error)

	// ComposePayload builds the delivery payload the Executor will
	// send, captured at materialization time.
	ComposePayload(o *owner.Owner) store.DeliveryPayload

	// IdempotencyKey deterministically derives the event's key from
	// the owner id and target instant, so retries and
	// re-materializations with identical inputs collide on purpose.
	IdempotencyKey(ownerID string, targetInstant time.Time) string

	// EventType identifies which registry slot this handler fills.
	EventType() store.EventType
}

// registry maps an event type to the handler that materializes it. Only
// birthdayHandler is registered for this MVP; adding a new event type
// means writing a new EventTypeHandler and registering it here, never
// branching inside Materialize.
var registry = map[store.EventType]EventTypeHandler{}

func register(h EventTypeHandler) {
	registry[h.EventType()] = h
}

func init() {
	register(&birthdayHandler{})
}
