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

// Package metrics holds label sets and bucket definitions shared across
// every package's own metrics.go, so histograms stay comparable across
// the store, materializer, scheduler, executor, and queue packages.
package metrics

// LatencyBuckets is used for every *_duration_seconds histogram in this
// module, from sub-millisecond store round trips up to multi-second
// webhook calls.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// EventTypeLabel is the label name used to break down per-event-type
// counters (currently only "BIRTHDAY", but the handler registry in
// internal/materializer allows more).
const EventTypeLabel = "event_type"
