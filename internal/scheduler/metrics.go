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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pradok/events-scheduler-sub002/internal/metrics"
)

var (
	tickDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "the length of time a single Tick call took",
		Buckets: metrics.LatencyBuckets,
	})
	eventsConsidered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_considered_total",
		Help: "the claim batch limit offered to ClaimReadyEvents, summed across all ticks",
	})
	eventsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_claimed_total",
		Help: "the number of rows transitioned PENDING to PROCESSING",
	})
	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_publish_failures_total",
		Help: "the number of claimed rows whose queue publish failed",
	})
)
