package handlers

import (
	"net/http"

	"custody/internal/apperr"
	"custody/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type createKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Expiry      string   `json:"expiry"`
}

type rolloverKeyRequest struct {
	ExpiredKeyID string `json:"expired_key_id"`
	Expiry       string `json:"expiry"`
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, err := h.keys.Create(r.Context(), userID, req.Name, req.Permissions, req.Expiry)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, key)
}

func (h *Handler) RolloverKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	var req rolloverKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExpiredKeyID == "" {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidRequest, "expired_key_id is required")
		return
	}
	key, err := h.keys.Rollover(r.Context(), userID, req.ExpiredKeyID, req.Expiry)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, key)
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	keys, err := h.keys.List(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	keyID := chi.URLParam(r, "id")
	if err := h.keys.Revoke(r.Context(), userID, keyID); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": keyID, "is_active": false})
}
