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

// Package httpapi is the minimal Owner CRUD surface spec.md §6 treats
// as an external collaborator: no request-validation/JSON-schema layer
// (the Non-goal spec.md §1 names), just enough net/http plumbing to
// exercise the core's "Owner mutation calls the Materializer
// synchronously, in the same transaction" contract end to end.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/materializer"
	"github.com/pradok/events-scheduler-sub002/internal/owner"
	"github.com/pradok/events-scheduler-sub002/internal/store"
	"github.com/pradok/events-scheduler-sub002/internal/timeservice"
	"github.com/pradok/events-scheduler-sub002/internal/txn"
)

// Handler implements the Owner CRUD surface. It holds no validation or
// schema layer by design (spec.md §1's Non-goal); malformed JSON is
// rejected with a generic 400, and individual fields are not checked,
// so a missing field is stored as its zero value.
type Handler struct {
	txRunner txn.Runner
	clock    timeservice.Clock
}

// New constructs a Handler.
func New(txRunner txn.Runner, clock timeservice.Clock) *Handler {
	return &Handler{txRunner: txRunner, clock: clock}
}

// Routes registers the Handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/owners", h.collection)
	mux.HandleFunc("/owners/", h.item)
}

type ownerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DOBYear   int    `json:"dobYear"`
	DOBMonth  int    `json:"dobMonth"`
	DOBDay    int    `json:"dobDay"`
	Timezone  string `json:"timezone"`
}

type ownerResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DOBYear   int    `json:"dobYear"`
	DOBMonth  int    `json:"dobMonth"`
	DOBDay    int    `json:"dobDay"`
	Timezone  string `json:"timezone"`
}

func toResponse(o *owner.Owner) ownerResponse {
	return ownerResponse{
		ID: o.ID, FirstName: o.FirstName, LastName: o.LastName,
		DOBYear: o.DateOfBirth.Year, DOBMonth: int(o.DateOfBirth.Month), DOBDay: o.DateOfBirth.Day,
		Timezone: o.Timezone,
	}
}

func monthOf(m int) time.Month { return time.Month(m) }

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.create(w, r)
}

func (h *Handler) item(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/owners/")
	if id == "" {
		http.Error(w, "owner id required", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// create implements owner creation: insert the owner row and
// materialize its first event in one transaction, per spec.md §6's
// atomicity requirement.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	o := &owner.Owner{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		DateOfBirth: timeservice.DateOfBirth{
			Year: req.DOBYear, Month: monthOf(req.DOBMonth), Day: req.DOBDay,
		},
		Timezone: req.Timezone,
	}

	err := h.txRunner.Do(r.Context(), func(ctx context.Context, events store.EventStore, owners owner.Repository) error {
		if err := owners.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create owner")
		}
		return materializer.Materialize(ctx, events, h.clock, o, store.EventTypeBirthday, materializer.ReasonCreated)
	})
	if err != nil {
		log.WithError(err).Warn("httpapi: create owner failed")
		http.Error(w, "failed to create owner", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(o))
}

// update implements owner mutation: rewrite the owner row and
// reschedule its PENDING events in the same transaction, per
// spec.md §4.3 step 3.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, id string) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var updated owner.Owner
	err := h.txRunner.Do(r.Context(), func(ctx context.Context, events store.EventStore, owners owner.Repository) error {
		existing, err := owners.FindByID(ctx, id)
		if err != nil {
			return err
		}

		birthdayChanged := existing.DateOfBirth != (timeservice.DateOfBirth{Year: req.DOBYear, Month: monthOf(req.DOBMonth), Day: req.DOBDay})
		timezoneChanged := existing.Timezone != req.Timezone

		existing.FirstName = req.FirstName
		existing.LastName = req.LastName
		existing.DateOfBirth = timeservice.DateOfBirth{Year: req.DOBYear, Month: monthOf(req.DOBMonth), Day: req.DOBDay}
		existing.Timezone = req.Timezone

		if err := owners.Update(ctx, existing); err != nil {
			return errors.Wrap(err, "update owner")
		}

		switch {
		case birthdayChanged:
			if err := materializer.Materialize(ctx, events, h.clock, existing, store.EventTypeBirthday, materializer.ReasonBirthdayChanged); err != nil {
				return err
			}
		case timezoneChanged:
			if err := materializer.Materialize(ctx, events, h.clock, existing, store.EventTypeBirthday, materializer.ReasonTimezoneChanged); err != nil {
				return err
			}
		}

		updated = *existing
		return nil
	})
	if err != nil {
		if errors.Is(err, owner.ErrNotFound) {
			http.Error(w, "owner not found", http.StatusNotFound)
			return
		}
		log.WithError(err).Warn("httpapi: update owner failed")
		http.Error(w, "failed to update owner", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(&updated))
}

// delete implements owner deletion: the owner row and all of its
// events (cascade) are removed in one transaction.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.txRunner.Do(r.Context(), func(ctx context.Context, events store.EventStore, owners owner.Repository) error {
		if err := events.DeleteByOwnerID(ctx, id); err != nil {
			return errors.Wrap(err, "delete owner events")
		}
		return owners.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, owner.ErrNotFound) {
			http.Error(w, "owner not found", http.StatusNotFound)
			return
		}
		log.WithError(err).Warn("httpapi: delete owner failed")
		http.Error(w, "failed to delete owner", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
