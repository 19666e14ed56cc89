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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pradok/events-scheduler-sub002/internal/metrics"
)

var (
	webhookDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_webhook_duration_seconds",
		Help:    "the length of time a single webhook attempt took",
		Buckets: metrics.LatencyBuckets,
	})
	webhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_webhook_attempts_total",
		Help: "the number of webhook attempts, labeled by outcome",
	}, []string{"outcome"})
	lateExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_late_executions_total",
		Help: "the number of descriptors processed after exceeding the late-execution grace window",
	})
	successorMaterializeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_successor_materialize_failures_total",
		Help: "the number of COMPLETED transitions whose successor materialization failed",
	})
)
