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

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pradok/events-scheduler-sub002/internal/metrics"
)

var (
	// PublishDurations is shared by every Queue implementation so that
	// publish latency is comparable across sqs and inmemory during
	// local testing.
	PublishDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_publish_duration_seconds",
		Help:    "the length of time it took to publish a descriptor",
		Buckets: metrics.LatencyBuckets,
	})
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_publish_failures_total",
		Help: "the number of publish calls that returned an error",
	})
	ReceiveCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_receive_messages_total",
		Help: "the number of messages returned from Receive calls",
	})
	RedriveToDLQCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_redrive_dlq_total",
		Help: "the number of messages moved to the dead-letter queue after exhausting max-receive",
	})
)
