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

import "testing"

func TestEvent_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusPending, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusProcessing, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, c := range cases {
		e := &Event{Status: c.from}
		got := e.CanTransitionTo(c.to)
		if got != c.want {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestAllowedPredecessors(t *testing.T) {
	cases := []struct {
		next Status
		want map[Status]bool
	}{
		{StatusPending, map[Status]bool{StatusPending: true, StatusProcessing: true}},
		{StatusProcessing, map[Status]bool{StatusPending: true}},
		{StatusCompleted, map[Status]bool{StatusProcessing: true}},
		{StatusFailed, map[Status]bool{StatusProcessing: true}},
	}

	for _, c := range cases {
		got := allowedPredecessors(c.next)
		if len(got) != len(c.want) {
			t.Errorf("allowedPredecessors(%s) = %v, want predecessors %v", c.next, got, c.want)
			continue
		}
		for _, from := range got {
			if !c.want[from] {
				t.Errorf("allowedPredecessors(%s) unexpectedly includes %s", c.next, from)
			}
		}
	}
}
