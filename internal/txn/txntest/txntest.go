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

// Package txntest holds an in-memory txn.Runner double, the same role
// internal/sinktest plays for the teacher's staging/target pools:
// production packages never import it, only _test.go files do.
package txntest

import (
	"context"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/txn"
)

// Runner runs fn directly against the Events/Owners doubles supplied
// by the caller, with no transactional isolation and no rollback:
// writes fn made before returning an error stay in the doubles.
type Runner struct {
	Events store.EventStore
	Owners owner.Repository
}

func (r *Runner) Do(
	ctx context.Context, fn func(ctx context.Context, events store.EventStore, owners owner.Repository) error,
) error {
	return fn(ctx, r.Events, r.Owners)
}

var _ txn.Runner = (*Runner)(nil)
