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

package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pradok/events-scheduler-sub002/internal/metrics"
)

var (
	sweepDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recovery_sweep_duration_seconds",
		Help:    "the length of time a single Sweep pass took",
		Buckets: metrics.LatencyBuckets,
	})
	sweepPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_sweep_published_total",
		Help: "the number of missed PENDING events re-published by Sweep",
	})
	sweepPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_sweep_publish_failures_total",
		Help: "the number of missed events Sweep failed to re-publish",
	})
	reclaimDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recovery_reclaim_duration_seconds",
		Help:    "the length of time a single ReclaimStuck pass took",
		Buckets: metrics.LatencyBuckets,
	})
	reclaimedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_reclaimed_events_total",
		Help: "the number of PROCESSING events reclaimed back to PENDING for being stuck past staleAfter",
	})
)
