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

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by FindByID when no row matches.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicateKey is returned by Create when idempotencyKey collides
	// with an existing row's unique index.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	// ErrIllegalTransition is returned by Update when e.Status would
	// move a row out of a status it cannot legally leave, per spec.md
	// §3 — including any attempted transition out of a terminal
	// COMPLETED or FAILED row.
	ErrIllegalTransition = errors.New("illegal event status transition")
)

// OptimisticLockConflictError is returned by Update when the row's
// version no longer matches the version the caller read, meaning
// another writer mutated it first.
type OptimisticLockConflictError struct {
	EventID string
	Version int64
}

func (e *OptimisticLockConflictError) Error() string {
	return "optimistic lock conflict on event " + e.EventID
}

// IsOptimisticLockConflict reports whether err is an
// OptimisticLockConflictError, mirroring the shape of a busy-lease check
// so callers can retry-claim rather than treat it as a hard failure.
func IsOptimisticLockConflict(err error) (conflict *OptimisticLockConflictError, ok bool) {
	return conflict, errors.As(err, &conflict)
}
