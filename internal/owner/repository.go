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

package owner

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by FindByID when no row matches.
var ErrNotFound = errors.New("owner not found")

// Repository is the narrow persistence interface httpapi depends on.
// Create and Update accept a store.Querier-shaped argument indirectly by
// running inside the caller's transaction — see Bind in pg_repository.go —
// so the owner row and the Materializer's event writes commit or roll
// back as one unit, per spec.md §6's atomicity requirement.
type Repository interface {
	Create(ctx context.Context, o *Owner) error
	FindByID(ctx context.Context, id string) (*Owner, error)
	Update(ctx context.Context, o *Owner) error
	Delete(ctx context.Context, id string) error
}
