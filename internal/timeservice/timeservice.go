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

// Package timeservice computes, in a pure and side-effect-free way, the
// next UTC instant at which a recurring local wall-clock time next
// occurs for a given IANA timezone. It owns the DST and February 29th
// policy decisions that the rest of the core relies on being fixed.
package timeservice

import (
	"time"

	"github.com/pkg/errors"
)

// InvalidTimezone is returned when a caller supplies a string that
// time.LoadLocation cannot resolve.
type InvalidTimezone struct {
	Timezone string
	cause    error
}

func (e *InvalidTimezone) Error() string {
	return "invalid timezone " + e.Timezone + ": " + e.cause.Error()
}

func (e *InvalidTimezone) Unwrap() error { return e.cause }

// IsInvalidTimezone reports whether err (or any error it wraps) is an
// InvalidTimezone.
func IsInvalidTimezone(err error) (*InvalidTimezone, bool) {
	var tz *InvalidTimezone
	return tz, errors.As(err, &tz)
}

// DateOfBirth is a calendar date with no attached timezone. Only the
// month and day are used to compute recurring occurrences; Year is
// retained for audit purposes only (the Feb-29 policy looks at the
// occurrence's year, not the birth year).
type DateOfBirth struct {
	Year  int
	Month time.Month
	Day   int
}

// DefaultTimeOfDay is the fixed trigger time for the MVP: 09:00:00
// local. An operator override (deliveryTimeOverride) replaces this
// verbatim at startup; see internal/wiring.
var DefaultTimeOfDay = TimeOfDay{Hour: 9}

// TimeOfDay is a wall-clock time with no date or zone component.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// loadLocation resolves an IANA timezone name, wrapping the stdlib
// error as InvalidTimezone so callers can distinguish it from other
// infrastructure failures.
func loadLocation(timezone string) (*time.Location, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &InvalidTimezone{Timezone: timezone, cause: err}
	}
	return loc, nil
}

// NextOccurrence returns the next UTC instant at which the local time
// timeOfDay occurs on dob's month/day, in timezone, strictly after
// referenceInstant.
//
// Policy (fixed, not configurable):
//   - In a non-leap year, a February 29th birthday is observed on
//     February 28th, not March 1st.
//   - A wall time that falls in a spring-forward gap resolves to the
//     instant immediately after the gap.
//   - A wall time that falls in a fall-back overlap resolves to the
//     earlier (pre-transition, i.e. summer-time) occurrence.
func NextOccurrence(
	dob DateOfBirth, timezone string, timeOfDay TimeOfDay, referenceInstant time.Time,
) (time.Time, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	refLocal := referenceInstant.In(loc)
	year := refLocal.Year()

	for {
		day := dob.Day
		if dob.Month == time.February && dob.Day == 29 && !isLeapYear(year) {
			day = 28
		}

		candidate := constructLocal(year, dob.Month, day, timeOfDay, loc)
		if candidate.After(referenceInstant) {
			return candidate.UTC(), nil
		}
		year++
	}
}

// ConvertToUTC interprets local as already being the correct wall-clock
// reading in timezone and returns the corresponding UTC instant. It
// does not apply any additional shift: local's own Location field, if
// any, is ignored in favor of timezone, so callers that have already
// placed the wall time (e.g. from a parsed date + time-of-day) are not
// double-shifted.
func ConvertToUTC(local time.Time, timezone string) (time.Time, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return constructLocal(
		local.Year(), local.Month(), local.Day(),
		TimeOfDay{Hour: local.Hour(), Minute: local.Minute(), Second: local.Second()},
		loc,
	).UTC(), nil
}

// constructLocal builds the local wall time for (year, month, day,
// timeOfDay) in loc, resolving nonexistent and ambiguous wall times per
// the fixed DST policy documented on NextOccurrence.
//
// For a nonexistent wall time (spring-forward gap), Go's time.Date may
// land on either side of the gap, so this function re-reads the civil
// time with the pre-transition offset, which places it the length of
// the gap past the transition (02:30 in a 02:00->03:00 gap becomes
// 03:30).
//
// For an ambiguous wall time (fall-back overlap), Go's time.Date
// documents its tie-break as unspecified, so this function resolves it
// explicitly: it compares the offset one hour before the naive result
// against the naive result's own offset. A mismatch means the naive
// pick landed on the later (post-transition) side of the overlap, and
// the wall-clock reading is re-anchored using the earlier offset
// instead.
func constructLocal(
	year int, month time.Month, day int, tod TimeOfDay, loc *time.Location,
) time.Time {
	naive := time.Date(year, month, day, tod.Hour, tod.Minute, tod.Second, 0, loc)

	if naive.Day() != day || naive.Hour() != tod.Hour || naive.Minute() != tod.Minute {
		// Nonexistent wall time: read it with the pre-gap offset so it
		// resolves past the gap.
		_, preGapOffset := naive.Add(-time.Hour).Zone()
		wallAsUTC := time.Date(year, month, day, tod.Hour, tod.Minute, tod.Second, 0, time.UTC)
		return wallAsUTC.Add(-time.Duration(preGapOffset) * time.Second)
	}

	_, naiveOffset := naive.Zone()
	_, earlierOffset := naive.Add(-time.Hour).Zone()
	if earlierOffset == naiveOffset {
		return naive
	}

	// Ambiguous wall time: reinterpret the same civil reading using the
	// pre-transition (earlier) offset.
	wallAsUTC := time.Date(year, month, day, tod.Hour, tod.Minute, tod.Second, 0, time.UTC)
	return wallAsUTC.Add(-time.Duration(earlierOffset) * time.Second)
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
