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

package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
	"github.com/pradok/events-scheduler-sub002/internal/txn/txntest"
)

// fakeEventStore is an in-memory EventStore double with the same
// optimistic-version behavior as internal/materializer's test double
// (but no duplicate-key check on Create), reimplemented here so this
// package's tests don't reach across package boundaries for an
// unexported type.
type fakeEventStore struct {
	byID map[string]*store.Event
}

func newFakeEventStore(events ...*store.Event) *fakeEventStore {
	f := &fakeEventStore{byID: map[string]*store.Event{}}
	for _, e := range events {
		clone := *e
		f.byID[e.ID] = &clone
	}
	return f
}

func (f *fakeEventStore) Create(_ context.Context, e *store.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Version = 1
	clone := *e
	f.byID[e.ID] = &clone
	return nil
}

func (f *fakeEventStore) FindByID(_ context.Context, id string) (*store.Event, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (f *fakeEventStore) FindByOwnerID(_ context.Context, ownerID string, status *store.Status) ([]*store.Event, error) {
	var out []*store.Event
	for _, e := range f.byID {
		if e.OwnerID != ownerID {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeEventStore) Update(_ context.Context, e *store.Event) error {
	existing, ok := f.byID[e.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != e.Version {
		return &store.OptimisticLockConflictError{EventID: e.ID, Version: e.Version}
	}
	clone := *e
	clone.Version++
	f.byID[e.ID] = &clone
	e.Version = clone.Version
	return nil
}

func (f *fakeEventStore) ClaimReadyEvents(context.Context, int, time.Time) ([]*store.Event, error) { return nil, nil }
func (f *fakeEventStore) FindMissedEvents(context.Context, int) ([]*store.Event, error) { return nil, nil }
func (f *fakeEventStore) ReclaimStuck(context.Context, time.Duration, int, time.Time) ([]*store.Event, error) {
	return nil, nil
}
func (f *fakeEventStore) DeleteByOwnerID(context.Context, string) error { return nil }

// fakeOwnerRepository is a minimal in-memory owner.Repository double.
type fakeOwnerRepository struct {
	byID map[string]*owner.Owner
}

func newFakeOwnerRepository(owners ...*owner.Owner) *fakeOwnerRepository {
	r := &fakeOwnerRepository{byID: map[string]*owner.Owner{}}
	for _, o := range owners {
		clone := *o
		r.byID[o.ID] = &clone
	}
	return r
}

func (r *fakeOwnerRepository) Create(context.Context, *owner.Owner) error { return nil }
func (r *fakeOwnerRepository) FindByID(_ context.Context, id string) (*owner.Owner, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, owner.ErrNotFound
	}
	clone := *o
	return &clone, nil
}
func (r *fakeOwnerRepository) Update(context.Context, *owner.Owner) error { return nil }
func (r *fakeOwnerRepository) Delete(context.Context, string) error       { return nil }

func testOwner(id string) *owner.Owner {
	return &owner.Owner{
		ID:          id,
		FirstName:   "John",
		LastName:    "Doe",
		DateOfBirth: timeservice.DateOfBirth{Year: 1990, Month: time.March, Day: 15},
		Timezone:    "America/New_York",
	}
}

func testDescriptorFor(e *store.Event) queue.Descriptor {
	return queue.Descriptor{
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

func newTestExecutor(events *fakeEventStore, owners *fakeOwnerRepository, client *http.Client) *Executor {
	runner := &txntest.Runner{Events: events, Owners: owners}
	return New(events, runner, client, timeservice.SystemClock{},
		[]time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond},
		5*time.Second, 5*time.Minute)
}

func TestProcess_SuccessMaterializesSuccessor(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "event-1", r.Header.Get("X-Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ownerID := uuid.NewString()
	e := &store.Event{
		ID: uuid.NewString(), OwnerID: ownerID, EventType: store.EventTypeBirthday,
		TargetTimestampUTC: time.Now().UTC(), Status: store.StatusProcessing, Version: 1,
		IdempotencyKey: "event-1", DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
	}
	events := newFakeEventStore(e)
	owners := newFakeOwnerRepository(testOwner(ownerID))
	x := newTestExecutor(events, owners, srv.Client())

	require.NoError(t, x.Process(context.Background(), testDescriptorFor(e)))
	assert.EqualValues(t, 1, calls)

	completed, err := events.FindByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.ExecutedAt)

	pending := store.StatusPending
	successors, err := events.FindByOwnerID(context.Background(), ownerID, &pending)
	require.NoError(t, err)
	require.Len(t, successors, 1)
}

func TestProcess_PermanentFailure_NoSuccessor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ownerID := uuid.NewString()
	e := &store.Event{
		ID: uuid.NewString(), OwnerID: ownerID, EventType: store.EventTypeBirthday,
		TargetTimestampUTC: time.Now().UTC(), Status: store.StatusProcessing, Version: 1,
		IdempotencyKey: "event-1", DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
	}
	events := newFakeEventStore(e)
	owners := newFakeOwnerRepository(testOwner(ownerID))
	x := newTestExecutor(events, owners, srv.Client())

	require.NoError(t, x.Process(context.Background(), testDescriptorFor(e)))

	failed, err := events.FindByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, "400")

	successors, err := events.FindByOwnerID(context.Background(), ownerID, nil)
	require.NoError(t, err)
	assert.Len(t, successors, 1, "only the original event should exist, no successor")
}

func TestProcess_TransientTwiceThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "event-1", r.Header.Get("X-Idempotency-Key"))
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ownerID := uuid.NewString()
	e := &store.Event{
		ID: uuid.NewString(), OwnerID: ownerID, EventType: store.EventTypeBirthday,
		TargetTimestampUTC: time.Now().UTC(), Status: store.StatusProcessing, Version: 1,
		IdempotencyKey: "event-1", DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
	}
	events := newFakeEventStore(e)
	owners := newFakeOwnerRepository(testOwner(ownerID))
	x := newTestExecutor(events, owners, srv.Client())

	require.NoError(t, x.Process(context.Background(), testDescriptorFor(e)))
	assert.EqualValues(t, 3, calls)

	completed, err := events.FindByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, completed.Status)
}

func TestProcess_TransientExhausted_LeavesProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ownerID := uuid.NewString()
	e := &store.Event{
		ID: uuid.NewString(), OwnerID: ownerID, EventType: store.EventTypeBirthday,
		TargetTimestampUTC: time.Now().UTC(), Status: store.StatusProcessing, Version: 1,
		IdempotencyKey: "event-1", DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
	}
	events := newFakeEventStore(e)
	owners := newFakeOwnerRepository(testOwner(ownerID))
	x := newTestExecutor(events, owners, srv.Client())

	err := x.Process(context.Background(), testDescriptorFor(e))
	assert.Error(t, err, "exhausted transient retries must not be acknowledged")

	still, err := events.FindByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, still.Status)
}

func TestProcess_NotProcessing_AcknowledgesWithoutSideEffects(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ownerID := uuid.NewString()
	e := &store.Event{
		ID: uuid.NewString(), OwnerID: ownerID, EventType: store.EventTypeBirthday,
		TargetTimestampUTC: time.Now().UTC(), Status: store.StatusCompleted, Version: 2,
		IdempotencyKey: "event-1", DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
	}
	events := newFakeEventStore(e)
	owners := newFakeOwnerRepository(testOwner(ownerID))
	x := newTestExecutor(events, owners, srv.Client())

	require.NoError(t, x.Process(context.Background(), testDescriptorFor(e)))
	assert.EqualValues(t, 0, calls, "no webhook call for a non-PROCESSING event")
}
