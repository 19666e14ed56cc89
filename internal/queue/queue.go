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

// Package queue defines the narrow Work Queue abstraction the
// Scheduler publishes onto and the Executor consumes from. Two
// implementations exist: internal/queue/sqs for production, and
// internal/queue/inmemory as a test double that reproduces SQS's
// at-least-once, visibility-timeout, max-receive/DLQ semantics without
// AWS.
package queue

import (
	"context"
	"time"

	"github.com/pradok/events-scheduler-sub002/internal/store"
)

// Metadata carries enough of the event's state for the Executor to
// avoid a full re-read when possible; the Executor MUST still re-read
// the event before any terminal transition. Field names match
// spec.md §6's wire schema verbatim.
type Metadata struct {
	OwnerID            string                `json:"ownerId"`
	TargetTimestampUTC time.Time             `json:"targetTimestampUTC"`
	DeliveryPayload    store.DeliveryPayload `json:"deliveryPayload"`
}

// Descriptor is the small record the Scheduler publishes for each
// claimed event, serialized onto the queue as JSON.
type Descriptor struct {
	EventID        string          `json:"eventId"`
	EventType      store.EventType `json:"eventType"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Metadata       Metadata        `json:"metadata"`
}

// Message is a Descriptor on the wire, plus whatever opaque token the
// backing implementation needs to acknowledge it later (an SQS receipt
// handle, or an in-memory message id).
type Message struct {
	Descriptor Descriptor
	AckToken   any
}

// Queue is implemented by internal/queue/sqs and internal/queue/inmemory.
type Queue interface {
	// Publish enqueues a single descriptor.
	Publish(ctx context.Context, d Descriptor) error

	// PublishBatch enqueues many descriptors, batched where the backing
	// implementation supports it.
	PublishBatch(ctx context.Context, ds []Descriptor) error

	// Receive returns up to max available messages. A message becomes
	// invisible to other receivers for the queue's visibility timeout
	// until Ack'd or the timeout elapses.
	Receive(ctx context.Context, max int) ([]Message, error)

	// Ack acknowledges successful processing of m, permanently removing
	// it from the queue.
	Ack(ctx context.Context, m Message) error
}
