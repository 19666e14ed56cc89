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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/store"
)

type pgRepository struct {
	q store.Querier
}

// NewPostgresRepository constructs the production Repository against
// the connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{q: pool}
}

// Bind scopes a Repository to q (typically a transaction httpapi already
// opened for the Materializer's atomic write), so owner mutation and
// event materialization commit together.
func Bind(q store.Querier) Repository {
	return &pgRepository{q: q}
}

func (r *pgRepository) Create(ctx context.Context, o *Owner) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO owners (id, first_name, last_name, dob_year, dob_month, dob_day, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, first_name, last_name, dob_year, dob_month, dob_day, timezone, created_at, updated_at`,
		o.ID, o.FirstName, o.LastName, o.DateOfBirth.Year, int(o.DateOfBirth.Month), o.DateOfBirth.Day, o.Timezone,
	)
	created, err := scanOwner(row)
	if err != nil {
		return errors.Wrap(err, "create owner")
	}
	*o = *created
	return nil
}

func (r *pgRepository) FindByID(ctx context.Context, id string) (*Owner, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, first_name, last_name, dob_year, dob_month, dob_day, timezone, created_at, updated_at
		FROM owners WHERE id = $1`, id)
	o, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find owner by id")
	}
	return o, nil
}

func (r *pgRepository) Update(ctx context.Context, o *Owner) error {
	row := r.q.QueryRow(ctx, `
		UPDATE owners SET
			first_name = $2, last_name = $3, dob_year = $4, dob_month = $5,
			dob_day = $6, timezone = $7, updated_at = now()
		WHERE id = $1
		RETURNING id, first_name, last_name, dob_year, dob_month, dob_day, timezone, created_at, updated_at`,
		o.ID, o.FirstName, o.LastName, o.DateOfBirth.Year, int(o.DateOfBirth.Month),
		o.DateOfBirth.Day, o.Timezone,
	)
	updated, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return errors.Wrap(err, "update owner")
	}
	*o = *updated
	return nil
}

func (r *pgRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete owner")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOwner(row rowScanner) (*Owner, error) {
	var o Owner
	var month int
	if err := row.Scan(
		&o.ID, &o.FirstName, &o.LastName, &o.DateOfBirth.Year, &month, &o.DateOfBirth.Day,
		&o.Timezone, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.DateOfBirth.Month = time.Month(month)
	return &o, nil
}
