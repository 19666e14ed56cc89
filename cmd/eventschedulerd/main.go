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

// Command eventschedulerd runs the birthday-event scheduler as a
// single long-running process: the Scheduler's claim ticker, the
// Executor's queue poller, the one-shot startup Recovery Sweep, the
// stuck-PROCESSING watchdog on the Scheduler's own cadence, and the
// Owner CRUD HTTP surface with a Prometheus /metrics endpoint. This is
// the "internal ticker in container/single-process mode" spec.md §6
// describes as one of the two valid periodic-trigger mechanisms; a
// managed external trigger (Lambda/cron) would call
// scheduler.Scheduler.Tick directly instead of running this binary.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pradok/events-scheduler-sub002/internal/config"
	"github.com/pradok/events-scheduler-sub002/internal/lifecycle"
	"github.com/pradok/events-scheduler-sub002/internal/wiring"
)

func main() {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx := signalContext()

	app, cleanup, err := wiring.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to wire application")
	}
	defer cleanup()

	if err := app.Sweeper.Sweep(ctx); err != nil {
		log.WithError(err).Warn("startup recovery sweep failed; continuing")
	}

	lc := lifecycle.WithContext(ctx)

	app.Scheduler.Run(lc, cfg.PollInterval)
	app.Watchdog.Run(lc, cfg.PollInterval)
	app.Executor.Run(lc, app.Queue, cfg.ClaimBatchLimit)

	mux := http.NewServeMux()
	app.HTTPHandler.Routes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.MetricsBindAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	lc.Go(func() error {
		log.WithField("addr", cfg.MetricsBindAddr).Info("eventschedulerd: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	lc.Go(func() error {
		<-lc.Stopping()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	log.Info("eventschedulerd: shutdown signal received, draining")
	if err := lc.Stop(30 * time.Second); err != nil {
		log.WithError(err).Warn("eventschedulerd: error during shutdown")
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM, in the
// same shape as the teacher's internal/source signal handling.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("eventschedulerd: received signal")
		cancel()
	}()
	return ctx
}
