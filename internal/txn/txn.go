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

// Package txn is the one place that knows how to bind both the Event
// Store and the Owner Repository to a single transaction. It exists
// so the Executor and the Owner CRUD surface can express "update the
// owner/event and materialize events atomically" without depending on
// internal/store's pgx-specific Querier directly, which keeps their
// tests free to substitute an in-memory Runner.
package txn

import (
	"context"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
)

// Runner executes fn with a store.EventStore and an owner.Repository
// that are bound to the same atomic transaction: either both of fn's
// writes through them commit, or neither does.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context, events store.EventStore, owners owner.Repository) error) error
}

type pgRunner struct {
	pool store.Querier
}

// NewPostgresRunner constructs a Runner over pool (typically a
// *pgxpool.Pool).
func NewPostgresRunner(pool store.Querier) Runner {
	return &pgRunner{pool: pool}
}

func (r *pgRunner) Do(
	ctx context.Context, fn func(ctx context.Context, events store.EventStore, owners owner.Repository) error,
) error {
	return store.WithTx(ctx, r.pool, func(ctx context.Context, tx store.Querier) error {
		return fn(ctx, store.Bind(tx), owner.Bind(tx))
	})
}
