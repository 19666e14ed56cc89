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

// Package integration exercises the core end to end — Materializer,
// Scheduler, Executor, and Recovery Sweep wired together over an
// in-memory EventStore/OwnerRepository and the real
// internal/queue/inmemory.Queue — against spec.md §8's scenarios S1-S4.
// S5/S6 (retry/backoff classification) are already covered at the
// Executor's own package boundary in internal/executor/executor_test.go
// and are not repeated here.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pradok/events-scheduler-sub002/internal/executor"
	"github.com/pradok/events-scheduler-sub002/internal/materializer"
	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/queue/inmemory"
	"github.com/pradok/events-scheduler-sub002/internal/recovery"
	"github.com/pradok/events-scheduler-sub002/internal/scheduler"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
	"github.com/pradok/events-scheduler-sub002/internal/txn/txntest"
)

// memStore is a mutex-guarded EventStore double that implements
// ClaimReadyEvents/FindMissedEvents/ReclaimStuck for real (unlike the
// per-package fakes elsewhere in this module, which stub some or all of
// those three out), since the scenarios here exercise exactly those
// operations.
// The single mutex stands in for Postgres's row-level locking: two
// concurrent ClaimReadyEvents calls serialize through it and therefore
// can never claim the same row twice, the same guarantee
// FOR UPDATE SKIP LOCKED gives in internal/store/pg_store.go.
type memStore struct {
	mu   sync.Mutex
	byID map[string]*store.Event
}

func newMemStore() *memStore { return &memStore{byID: map[string]*store.Event{}} }

func (s *memStore) Create(_ context.Context, e *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Version = 1
	clone := *e
	s.byID[e.ID] = &clone
	return nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *memStore) FindByOwnerID(_ context.Context, ownerID string, status *store.Status) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Event
	for _, e := range s.byID {
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

func (s *memStore) Update(_ context.Context, e *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[e.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != e.Version {
		return &store.OptimisticLockConflictError{EventID: e.ID, Version: e.Version}
	}
	clone := *e
	clone.Version++
	s.byID[e.ID] = &clone
	e.Version = clone.Version
	return nil
}

func (s *memStore) ClaimReadyEvents(_ context.Context, limit int, now time.Time) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*store.Event
	for _, e := range s.byID {
		if e.Status == store.StatusPending && !e.TargetTimestampUTC.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].TargetTimestampUTC.Before(due[j].TargetTimestampUTC) })

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*store.Event, 0, len(due))
	for _, e := range due {
		e.Status = store.StatusProcessing
		e.Version++
		clone := *e
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (s *memStore) FindMissedEvents(_ context.Context, limit int) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missed []*store.Event
	now := time.Now().UTC()
	for _, e := range s.byID {
		if e.Status == store.StatusPending && !e.TargetTimestampUTC.After(now) {
			clone := *e
			missed = append(missed, &clone)
		}
	}
	sort.Slice(missed, func(i, j int) bool { return missed[i].TargetTimestampUTC.Before(missed[j].TargetTimestampUTC) })
	if len(missed) > limit {
		missed = missed[:limit]
	}
	return missed, nil
}

func (s *memStore) ReclaimStuck(_ context.Context, staleAfter time.Duration, limit int, now time.Time) ([]*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []*store.Event
	for _, e := range s.byID {
		if e.Status == store.StatusProcessing && e.UpdatedAt.Before(now.Add(-staleAfter)) {
			stuck = append(stuck, e)
		}
	}
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	reclaimed := make([]*store.Event, 0, len(stuck))
	for _, e := range stuck {
		e.Status = store.StatusPending
		e.RetryCount++
		e.Version++
		clone := *e
		reclaimed = append(reclaimed, &clone)
	}
	return reclaimed, nil
}

func (s *memStore) DeleteByOwnerID(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.byID {
		if e.OwnerID == ownerID {
			delete(s.byID, id)
		}
	}
	return nil
}

// memOwners is a minimal in-memory owner.Repository double.
type memOwners struct {
	mu   sync.Mutex
	byID map[string]*owner.Owner
}

func newMemOwners() *memOwners { return &memOwners{byID: map[string]*owner.Owner{}} }

func (r *memOwners) Create(_ context.Context, o *owner.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	clone := *o
	r.byID[o.ID] = &clone
	return nil
}

func (r *memOwners) FindByID(_ context.Context, id string) (*owner.Owner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, owner.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (r *memOwners) Update(_ context.Context, o *owner.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; !ok {
		return owner.ErrNotFound
	}
	clone := *o
	r.byID[o.ID] = &clone
	return nil
}

func (r *memOwners) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return owner.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// steppableClock is a timeservice.Clock the test can advance
// explicitly, standing in for the real passage of time across a
// Scheduler tick + Executor delivery, without an actual sleep.
type steppableClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppableClock(start time.Time) *steppableClock {
	return &steppableClock{now: start}
}

func (c *steppableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newOwner(tz string, dob timeservice.DateOfBirth) *owner.Owner {
	return &owner.Owner{FirstName: "John", LastName: "Doe", DateOfBirth: dob, Timezone: tz}
}

// TestS1_BasicBirthday implements spec.md §8's S1.
func TestS1_BasicBirthday(t *testing.T) {
	var webhookCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhookCalls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	restore := stubWebhookURL(srv.URL)
	defer restore()

	events := newMemStore()
	owners := newMemOwners()
	runner := &txntest.Runner{Events: events, Owners: owners}
	clock := newSteppableClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	o := newOwner("America/New_York", timeservice.DateOfBirth{Year: 1990, Month: time.March, Day: 15})
	require.NoError(t, runner.Do(context.Background(), func(ctx context.Context, ev store.EventStore, ow owner.Repository) error {
		if err := ow.Create(ctx, o); err != nil {
			return err
		}
		return materializer.Materialize(ctx, ev, clock, o, store.EventTypeBirthday, materializer.ReasonCreated)
	}))

	pending := store.StatusPending
	firstRun, err := events.FindByOwnerID(context.Background(), o.ID, &pending)
	require.NoError(t, err)
	require.Len(t, firstRun, 1)
	wantTarget := time.Date(2025, 3, 15, 13, 0, 0, 0, time.UTC)
	assert.True(t, firstRun[0].TargetTimestampUTC.Equal(wantTarget), "target=%s", firstRun[0].TargetTimestampUTC)

	q := inmemory.New(clock, 30*time.Second, 3, nil)
	sched := scheduler.New(events, q, clock, 10)
	exec := executor.New(events, runner, srv.Client(), clock,
		[]time.Duration{10 * time.Millisecond}, 2*time.Second, 5*time.Minute)

	clock.Set(wantTarget.Add(15 * time.Second))
	require.NoError(t, sched.Tick(context.Background(), clock.Now()))

	processing, err := events.FindByID(context.Background(), firstRun[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, processing.Status)

	messages, err := q.Receive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, exec.Process(context.Background(), messages[0].Descriptor))
	require.NoError(t, q.Ack(context.Background(), messages[0]))
	assert.EqualValues(t, 1, webhookCalls)

	completed, err := events.FindByID(context.Background(), firstRun[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, completed.Status)

	successors, err := events.FindByOwnerID(context.Background(), o.ID, &pending)
	require.NoError(t, err)
	require.Len(t, successors, 1)
	wantNext := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	assert.True(t, successors[0].TargetTimestampUTC.Equal(wantNext), "next target=%s", successors[0].TargetTimestampUTC)
}

// TestS2_MultiTimezoneCoincidence implements spec.md §8's S2: two
// owners in different timezones whose local 09:00 birthday lands at
// different UTC instants despite sharing the same calendar birthday,
// and each is delivered exactly once, in target order.
func TestS2_MultiTimezoneCoincidence(t *testing.T) {
	var callOrder []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callOrder = append(callOrder, r.Header.Get("X-Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	restore := stubWebhookURL(srv.URL)
	defer restore()

	events := newMemStore()
	owners := newMemOwners()
	runner := &txntest.Runner{Events: events, Owners: owners}
	clock := newSteppableClock(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))

	tokyo := newOwner("Asia/Tokyo", timeservice.DateOfBirth{Year: 2025, Month: time.April, Day: 1})
	ny := newOwner("America/New_York", timeservice.DateOfBirth{Year: 2025, Month: time.April, Day: 1})

	for _, o := range []*owner.Owner{tokyo, ny} {
		o := o
		require.NoError(t, runner.Do(context.Background(), func(ctx context.Context, ev store.EventStore, ow owner.Repository) error {
			if err := ow.Create(ctx, o); err != nil {
				return err
			}
			return materializer.Materialize(ctx, ev, clock, o, store.EventTypeBirthday, materializer.ReasonCreated)
		}))
	}

	pending := store.StatusPending
	tokyoEvents, err := events.FindByOwnerID(context.Background(), tokyo.ID, &pending)
	require.NoError(t, err)
	require.Len(t, tokyoEvents, 1)
	nyEvents, err := events.FindByOwnerID(context.Background(), ny.ID, &pending)
	require.NoError(t, err)
	require.Len(t, nyEvents, 1)

	wantTokyo := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	wantNY := time.Date(2025, 4, 1, 13, 0, 0, 0, time.UTC)
	assert.True(t, tokyoEvents[0].TargetTimestampUTC.Equal(wantTokyo))
	assert.True(t, nyEvents[0].TargetTimestampUTC.Equal(wantNY))

	q := inmemory.New(clock, 30*time.Second, 3, nil)
	sched := scheduler.New(events, q, clock, 10)
	exec := executor.New(events, runner, srv.Client(), clock,
		[]time.Duration{10 * time.Millisecond}, 2*time.Second, 5*time.Minute)

	deliverDueAt := func(at time.Time) {
		clock.Set(at)
		require.NoError(t, sched.Tick(context.Background(), clock.Now()))
		messages, err := q.Receive(context.Background(), 10)
		require.NoError(t, err)
		for _, m := range messages {
			require.NoError(t, exec.Process(context.Background(), m.Descriptor))
			require.NoError(t, q.Ack(context.Background(), m))
		}
	}

	deliverDueAt(wantTokyo.Add(5 * time.Second))
	deliverDueAt(wantNY.Add(5 * time.Second))

	require.Len(t, callOrder, 2)
	assert.Equal(t, tokyoEvents[0].IdempotencyKey, callOrder[0])
	assert.Equal(t, nyEvents[0].IdempotencyKey, callOrder[1])
}

// TestS3_RaceOnClaim implements spec.md §8's S3: two concurrent
// Scheduler ticks against the same due set must partition it, never
// double-claim a row.
func TestS3_RaceOnClaim(t *testing.T) {
	events := newMemStore()
	q := inmemory.New(timeservice.SystemClock{}, 30*time.Second, 3, nil)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	const total = 10
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		e := &store.Event{
			OwnerID: uuid.NewString(), EventType: store.EventTypeBirthday,
			TargetTimestampUTC: past, Status: store.StatusPending,
			IdempotencyKey: "event-" + uuid.NewString(),
		}
		require.NoError(t, events.Create(context.Background(), e))
		ids[i] = e.ID
	}

	schedA := scheduler.New(events, q, timeservice.SystemClock{}, total)
	schedB := scheduler.New(events, q, timeservice.SystemClock{}, total)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = schedA.Tick(context.Background(), now) }()
	go func() { defer wg.Done(); _ = schedB.Tick(context.Background(), now) }()
	wg.Wait()

	seen := map[string]int{}
	messages, err := q.Receive(context.Background(), total*2)
	require.NoError(t, err)
	for _, m := range messages {
		seen[m.Descriptor.EventID]++
	}
	require.Len(t, messages, total, "the union of both ticks' claims must cover every due event exactly once")
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "event %s claimed more than once", id)
	}
}

// TestS4_RecoverySweepAfterOutage implements spec.md §8's S4 at a
// smaller scale (5 missed events rather than 50; the mechanism under
// test does not depend on the count). The Recovery Sweep publishes
// descriptors for the past-due rows without claiming them, and the
// Scheduler's tick then claims the same rows and publishes an
// identical descriptor for each. Whichever of the two is processed
// first delivers and completes the row; the other must be a no-op, so
// every row completes exactly once.
func TestS4_RecoverySweepAfterOutage(t *testing.T) {
	var deliveries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries = append(deliveries, r.Header.Get("X-Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	events := newMemStore()
	owners := newMemOwners()
	runner := &txntest.Runner{Events: events, Owners: owners}
	clock := newSteppableClock(time.Now().UTC())
	q := inmemory.New(clock, 30*time.Second, 3, nil)

	const missedCount = 5
	ids := make([]string, missedCount)
	for i := 0; i < missedCount; i++ {
		e := &store.Event{
			OwnerID: uuid.NewString(), EventType: store.EventTypeBirthday,
			TargetTimestampUTC: clock.Now().Add(-24 * time.Hour), Status: store.StatusPending,
			IdempotencyKey:  "missed-" + uuid.NewString(),
			DeliveryPayload: store.DeliveryPayload{Message: "hi", WebhookURL: srv.URL},
		}
		require.NoError(t, events.Create(context.Background(), e))
		ids[i] = e.ID
	}

	sweeper := recovery.NewSweeper(events, q, 1000)
	require.NoError(t, sweeper.Sweep(context.Background()))

	sched := scheduler.New(events, q, clock, 1000)
	require.NoError(t, sched.Tick(context.Background(), clock.Now()))

	exec := executor.New(events, runner, srv.Client(), clock,
		[]time.Duration{10 * time.Millisecond}, 2*time.Second, 5*time.Minute)

	// Drain every descriptor the sweep and the tick both published.
	// Whichever arrives first for a given event completes it; the
	// second (if any) must observe it already COMPLETED and ack
	// without a second webhook call.
	for {
		messages, err := q.Receive(context.Background(), missedCount*2)
		require.NoError(t, err)
		if len(messages) == 0 {
			break
		}
		for _, m := range messages {
			require.NoError(t, exec.Process(context.Background(), m.Descriptor))
			require.NoError(t, q.Ack(context.Background(), m))
		}
	}

	for _, id := range ids {
		e, err := events.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, e.Status)
	}

	seen := map[string]int{}
	for _, key := range deliveries {
		seen[key]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "idempotency key %s delivered more than once", key)
	}
	assert.Len(t, seen, missedCount)
}

// stubWebhookURL overrides materializer.WebhookURLFor for the duration
// of a test, restoring the original on return.
func stubWebhookURL(url string) func() {
	original := materializer.WebhookURLFor
	materializer.WebhookURLFor = func(o *owner.Owner) string { return url }
	return func() { materializer.WebhookURLFor = original }
}
