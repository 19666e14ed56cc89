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

// Package owner holds the Owner domain model and its Postgres-backed
// repository. Owner CRUD sits outside this module's core per the
// specification's Non-goals (no validation layer, no JSON schema), but
// the repository still has to exist so the Materializer can be
// exercised end-to-end from a mutation of an owner's fields.
package owner

import (
	"time"

	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
)

// Owner is one person tracked for recurring birthday events.
type Owner struct {
	ID          string
	FirstName   string
	LastName    string
	DateOfBirth timeservice.DateOfBirth
	Timezone    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName is used by the Materializer to compose the birthday
// delivery message.
func (o *Owner) FullName() string {
	return o.FirstName + " " + o.LastName
}
