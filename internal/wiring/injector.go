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

//go:build wireinject
// +build wireinject

package wiring

import (
	"context"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pradok/events-scheduler-sub002/internal/config"
	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/txn"
)

// dbLayer is the branch-free slice of the dependency graph that sits
// entirely downstream of one *pgxpool.Pool: wire can generate this
// part on its own. The rest of App (Queue, Scheduler, Executor,
// Recovery, httpapi) is assembled by hand in wiring.go's New, since
// selecting the Queue implementation is a runtime config branch wire's
// compile-time provider sets cannot express.
type dbLayer struct {
	Pool       *pgxpool.Pool
	EventStore store.EventStore
	Owners     owner.Repository
	TxRunner   txn.Runner
}

func provideDBEventStore(pool *pgxpool.Pool) store.EventStore { return store.NewPostgresStore(pool) }

func provideDBOwnerRepository(pool *pgxpool.Pool) owner.Repository {
	return owner.NewPostgresRepository(pool)
}

func provideDBTxRunner(pool *pgxpool.Pool) txn.Runner { return txn.NewPostgresRunner(pool) }

// wireDBLayer is never compiled into the binary; it exists only so
// `go generate` (run with -tags wireinject) can regenerate the
// dbLayer-shaped portion of wiring.go's New if providePool's signature
// or dbLayer's fields change.
func wireDBLayer(ctx context.Context, cfg *config.Config) (*dbLayer, func(), error) {
	wire.Build(
		providePool,
		provideDBEventStore,
		provideDBOwnerRepository,
		provideDBTxRunner,
		wire.Struct(new(dbLayer), "*"),
	)
	return nil, nil, nil
}
