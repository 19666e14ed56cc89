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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore is the narrow, injectable interface the Materializer,
// Scheduler, Executor, and Recovery Sweep depend on. It never exposes a
// raw SQL connection: every mutation goes through one of its methods,
// so the version counter and idempotency-key uniqueness are enforced
// inside the store.
type EventStore interface {
	Create(ctx context.Context, e *Event) error
	FindByID(ctx context.Context, id string) (*Event, error)
	FindByOwnerID(ctx context.Context, ownerID string, status *Status) ([]*Event, error)
	Update(ctx context.Context, e *Event) error
	ClaimReadyEvents(ctx context.Context, limit int, now time.Time) ([]*Event, error)
	FindMissedEvents(ctx context.Context, limit int) ([]*Event, error)
	ReclaimStuck(ctx context.Context, staleAfter time.Duration, limit int, now time.Time) ([]*Event, error)
	DeleteByOwnerID(ctx context.Context, ownerID string) error
}

// Querier is implemented by pgxpool.Pool, pgxpool.Conn, and pgx.Tx. It
// lets pgStore's query helpers run unchanged whether they're handed the
// pool directly or a transaction the Materializer/Executor opened to
// get store-plus-business-logic atomicity. Begin is included because
// pgx.Tx itself supports nested transactions (savepoints), so WithTx
// works the same way regardless of whether q is already a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// WithTx runs fn inside a transaction opened on q, committing on a nil
// return and rolling back otherwise. The Materializer and Executor use
// this to get Event Store writes and their own domain writes (owner
// mutation, successor materialization) into one atomic unit; q may
// already be a transaction, in which case this opens a savepoint.
func WithTx(ctx context.Context, q Querier, fn func(ctx context.Context, tx Querier) error) error {
	tx, err := q.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
