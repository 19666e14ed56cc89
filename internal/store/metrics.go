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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pradok/events-scheduler-sub002/internal/metrics"
)

var (
	storeClaimDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_claim_duration_seconds",
		Help:    "the length of time it took to claim ready events",
		Buckets: metrics.LatencyBuckets,
	})
	storeClaimCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_claim_events_total",
		Help: "the number of events claimed out of the PENDING/ready set",
	})
	storeReclaimCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_reclaim_stuck_events_total",
		Help: "the number of PROCESSING events reclaimed back to PENDING by the recovery watchdog",
	})
	storeUpdateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_update_optimistic_conflicts_total",
		Help: "the number of Update calls that lost an optimistic-lock race",
	})
	storeDuplicateKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_create_duplicate_key_total",
		Help: "the number of Create calls rejected by the idempotency-key unique index",
	})
	storeQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_query_errors_total",
		Help: "the number of store operations that failed for a reason other than a known sentinel",
	}, []string{"operation"})
)
