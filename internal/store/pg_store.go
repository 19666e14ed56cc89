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

package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const eventColumns = `
	id, owner_id, event_type, target_timestamp_utc, target_timestamp_local,
	target_timezone, status, version, idempotency_key, delivery_message,
	delivery_webhook_url, executed_at, failure_reason, retry_count,
	created_at, updated_at`

// pgStore is the Postgres-backed EventStore. It holds a Querier rather
// than a concrete pool so the Materializer and Executor can bind a store
// instance to a transaction they already opened and get atomicity across
// a store write and a business-rule decision.
type pgStore struct {
	q Querier
}

// NewPostgresStore constructs the production EventStore against the
// connection pool.
func NewPostgresStore(pool *pgxpool.Pool) EventStore {
	return &pgStore{q: pool}
}

// Bind returns an EventStore that issues every query against q. The
// Materializer and Executor use this to fold Event Store writes into a
// transaction they also use for a domain write (owner mutation,
// successor materialization), so both commit or roll back together.
func Bind(q Querier) EventStore {
	return &pgStore{q: q}
}

func (s *pgStore) Create(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO events (
			id, owner_id, event_type, target_timestamp_utc, target_timestamp_local,
			target_timezone, status, version, idempotency_key, delivery_message,
			delivery_webhook_url, executed_at, failure_reason, retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, $11, $12, $13, now(), now()
		) RETURNING `+eventColumns,
		e.ID, e.OwnerID, e.EventType, e.TargetTimestampUTC, e.TargetTimestampLocal,
		e.TargetTimezone, e.Status, e.IdempotencyKey, e.DeliveryPayload.Message,
		e.DeliveryPayload.WebhookURL, e.ExecutedAt, e.FailureReason, e.RetryCount,
	)

	created, err := scanEvent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			storeDuplicateKeys.Inc()
			return errors.Wrapf(ErrDuplicateKey, "event %s", e.ID)
		}
		storeQueryErrors.WithLabelValues("create").Inc()
		return errors.Wrap(err, "create event")
	}
	*e = *created
	return nil
}

func (s *pgStore) FindByID(ctx context.Context, id string) (*Event, error) {
	row := s.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		storeQueryErrors.WithLabelValues("find_by_id").Inc()
		return nil, errors.Wrap(err, "find event by id")
	}
	return e, nil
}

func (s *pgStore) FindByOwnerID(ctx context.Context, ownerID string, status *Status) ([]*Event, error) {
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = s.q.Query(ctx,
			`SELECT `+eventColumns+` FROM events WHERE owner_id = $1 AND status = $2 ORDER BY target_timestamp_utc ASC`,
			ownerID, *status)
	} else {
		rows, err = s.q.Query(ctx,
			`SELECT `+eventColumns+` FROM events WHERE owner_id = $1 ORDER BY target_timestamp_utc ASC`,
			ownerID)
	}
	if err != nil {
		storeQueryErrors.WithLabelValues("find_by_owner_id").Inc()
		return nil, errors.Wrap(err, "find events by owner id")
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Update performs an optimistic-locked write: the WHERE clause requires
// the version the caller last read, and the SET clause advances it by
// one. It also requires the row's current status to be one of
// allowedPredecessors(e.Status) — the store-layer half of spec.md §3's
// double-enforced transition invariant — so an illegal status move is
// refused by the database itself even if the caller never checked
// Event.CanTransitionTo. Zero rows affected means either a version
// conflict or an illegal transition; diagnoseUpdateFailure tells them
// apart.
func (s *pgStore) Update(ctx context.Context, e *Event) error {
	predecessors := allowedPredecessors(e.Status)
	if len(predecessors) == 0 {
		storeQueryErrors.WithLabelValues("update").Inc()
		return errors.Wrapf(ErrIllegalTransition, "event %s: nothing may transition to %s", e.ID, e.Status)
	}
	predecessorNames := make([]string, len(predecessors))
	for i, p := range predecessors {
		predecessorNames[i] = string(p)
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE events SET
			status = $3, target_timestamp_utc = $4, target_timestamp_local = $5,
			target_timezone = $6, idempotency_key = $7, delivery_message = $8,
			delivery_webhook_url = $9, executed_at = $10, failure_reason = $11,
			retry_count = $12, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND status = ANY($13)`,
		e.ID, e.Version, e.Status, e.TargetTimestampUTC, e.TargetTimestampLocal,
		e.TargetTimezone, e.IdempotencyKey, e.DeliveryPayload.Message,
		e.DeliveryPayload.WebhookURL, e.ExecutedAt, e.FailureReason, e.RetryCount,
		predecessorNames,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			storeDuplicateKeys.Inc()
			return errors.Wrapf(ErrDuplicateKey, "event %s", e.ID)
		}
		storeQueryErrors.WithLabelValues("update").Inc()
		return errors.Wrap(err, "update event")
	}
	if tag.RowsAffected() == 0 {
		return s.diagnoseUpdateFailure(ctx, e)
	}
	e.Version++
	return nil
}

// diagnoseUpdateFailure runs once Update's WHERE clause has matched
// zero rows, to tell an optimistic-lock conflict (another writer
// already advanced the version) apart from an illegal transition (the
// row's current status cannot legally move to e.Status), so callers
// and logs see the right error rather than always assuming a version
// conflict.
func (s *pgStore) diagnoseUpdateFailure(ctx context.Context, e *Event) error {
	current, err := s.FindByID(ctx, e.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			storeUpdateConflicts.Inc()
			return &OptimisticLockConflictError{EventID: e.ID, Version: e.Version}
		}
		return errors.Wrap(err, "diagnose update failure")
	}
	if !current.CanTransitionTo(e.Status) {
		storeQueryErrors.WithLabelValues("update").Inc()
		return errors.Wrapf(ErrIllegalTransition, "event %s: %s cannot move to %s", e.ID, current.Status, e.Status)
	}
	storeUpdateConflicts.Inc()
	return &OptimisticLockConflictError{EventID: e.ID, Version: e.Version}
}

// ClaimReadyEvents atomically selects up to limit PENDING rows whose
// target instant has arrived, flips them to PROCESSING, and returns the
// claimed rows ordered by target instant ascending — all inside one
// transaction, with FOR UPDATE SKIP LOCKED
// so concurrent scheduler instances never double-claim the same row.
func (s *pgStore) ClaimReadyEvents(ctx context.Context, limit int, now time.Time) ([]*Event, error) {
	start := time.Now()
	defer func() { storeClaimDurations.Observe(time.Since(start).Seconds()) }()

	var claimed []*Event
	err := WithTx(ctx, s.q, func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `
			SELECT id FROM events
			WHERE status = $1 AND target_timestamp_utc <= $2
			ORDER BY target_timestamp_utc ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED`, StatusPending, now, limit)
		if err != nil {
			return errors.Wrap(err, "claim ready events: select ids")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.Wrap(err, "claim ready events: scan id")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "claim ready events: iterate ids")
		}
		if len(ids) == 0 {
			return nil
		}

		updateRows, err := q.Query(ctx, `
			UPDATE events SET status = $1, version = version + 1, updated_at = now()
			WHERE id = ANY($2)
			RETURNING `+eventColumns, StatusProcessing, ids)
		if err != nil {
			return errors.Wrap(err, "claim ready events: flip to processing")
		}
		defer updateRows.Close()
		claimed, err = collectEvents(updateRows)
		if err != nil {
			return err
		}
		// RETURNING does not preserve the SELECT's order; restore it.
		sort.SliceStable(claimed, func(i, j int) bool {
			return claimed[i].TargetTimestampUTC.Before(claimed[j].TargetTimestampUTC)
		})
		return nil
	})
	if err != nil {
		storeQueryErrors.WithLabelValues("claim_ready_events").Inc()
		return nil, err
	}
	storeClaimCount.Add(float64(len(claimed)))
	return claimed, nil
}

// FindMissedEvents returns PENDING rows whose target instant is already
// in the past, for the Recovery Sweep to re-publish without claiming
// them itself (claiming remains ClaimReadyEvents's job).
func (s *pgStore) FindMissedEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = $1 AND target_timestamp_utc <= now()
		ORDER BY target_timestamp_utc ASC
		LIMIT $2`, StatusPending, limit)
	if err != nil {
		storeQueryErrors.WithLabelValues("find_missed_events").Inc()
		return nil, errors.Wrap(err, "find missed events")
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReclaimStuck atomically selects up to limit PROCESSING rows whose
// updated_at is older than staleAfter, flips them back to PENDING, and
// bumps RetryCount so operators can see how many times a row has been
// reclaimed. It uses the same FOR UPDATE SKIP LOCKED pattern as
// ClaimReadyEvents so the Recovery watchdog never races the Scheduler
// or another watchdog instance for the same row.
func (s *pgStore) ReclaimStuck(ctx context.Context, staleAfter time.Duration, limit int, now time.Time) ([]*Event, error) {
	var reclaimed []*Event
	err := WithTx(ctx, s.q, func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `
			SELECT id FROM events
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED`, StatusProcessing, now.Add(-staleAfter), limit)
		if err != nil {
			return errors.Wrap(err, "reclaim stuck: select ids")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.Wrap(err, "reclaim stuck: scan id")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "reclaim stuck: iterate ids")
		}
		if len(ids) == 0 {
			return nil
		}

		updateRows, err := q.Query(ctx, `
			UPDATE events SET status = $1, retry_count = retry_count + 1,
				version = version + 1, updated_at = now()
			WHERE id = ANY($2)
			RETURNING `+eventColumns, StatusPending, ids)
		if err != nil {
			return errors.Wrap(err, "reclaim stuck: flip to pending")
		}
		defer updateRows.Close()
		reclaimed, err = collectEvents(updateRows)
		return err
	})
	if err != nil {
		storeQueryErrors.WithLabelValues("reclaim_stuck").Inc()
		return nil, err
	}
	storeReclaimCount.Add(float64(len(reclaimed)))
	return reclaimed, nil
}

func (s *pgStore) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM events WHERE owner_id = $1`, ownerID); err != nil {
		storeQueryErrors.WithLabelValues("delete_by_owner_id").Inc()
		return errors.Wrap(err, "delete events by owner id")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	if err := row.Scan(
		&e.ID, &e.OwnerID, &e.EventType, &e.TargetTimestampUTC, &e.TargetTimestampLocal,
		&e.TargetTimezone, &e.Status, &e.Version, &e.IdempotencyKey, &e.DeliveryPayload.Message,
		&e.DeliveryPayload.WebhookURL, &e.ExecutedAt, &e.FailureReason, &e.RetryCount,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event row")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate event rows")
	}
	return events, nil
}
