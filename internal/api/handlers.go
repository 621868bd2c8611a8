// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/spindlehq/warden/internal/lifecycle"
	"github.com/spindlehq/warden/internal/provider"
	"github.com/spindlehq/warden/internal/store"
)

type handlers struct {
	lc Lifecycle
}

type startBody struct {
	Platform   provider.Platform `json:"platform"`
	Credential string            `json:"credential,omitempty"`
	Force      bool              `json:"force,omitempty"`
}

type messageBody struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Status string `json:"status"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.lc.ListActiveSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := h.lc.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	err := h.lc.Start(r.Context(), lifecycle.StartRequest{
		SessionID:  sessionID,
		Platform:   body.Platform,
		Credential: body.Credential,
		Force:      body.Force,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "connected"})
}

func (h *handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.lc.Stop(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "stopped"})
}

func (h *handlers) reconnectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.lc.ForceReconnect(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{Status: "reconnecting"})
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chat_id and text are required"})
		return
	}

	if err := h.lc.SendText(r.Context(), sessionID, body.ChatID, body.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "sent"})
}

// writeError maps lifecycle errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, lifecycle.ErrSessionNotFound),
		errors.Is(err, store.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrAlreadyConnected),
		errors.Is(err, lifecycle.ErrClaimHeld):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrPlatformUnknown):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrCredentialMissing):
		status = http.StatusPreconditionFailed
	case errors.Is(err, lifecycle.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
