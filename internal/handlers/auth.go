package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"custody/internal/apperr"
	"custody/internal/auth"
	"custody/internal/middleware"
	"custody/internal/services"
	"custody/internal/websocket"

	"github.com/google/uuid"
)

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "user not found")
		return
	}
	if err != nil {
		respondAppError(w, err)
		return
	}
	payload := map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"created_at": user.CreatedAt,
	}
	wallet, err := h.wallets.GetByUserID(r.Context(), userID)
	switch {
	case err == nil:
		payload["wallet_number"] = wallet.WalletNumber
	case !errors.Is(err, apperr.ErrWalletNotFound):
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

// WSBalance streams balance updates. Browsers cannot set headers on a
// websocket handshake, so the token may also come from the query string.
func (h *Handler) WSBalance(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err == nil {
		_, err = uuid.Parse(claims.UserID)
	}
	if err != nil {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid token")
		return
	}
	var current *websocket.BalanceUpdate
	if wallet, err := h.wallets.GetByUserID(r.Context(), claims.UserID); err == nil {
		update := services.BalanceUpdateFor(wallet, "snapshot")
		current = &update
	}
	websocket.ServeWS(w, r, websocket.NewUpgrader(h.cfg.AllowedOrigins), h.hub, claims.UserID, current)
}
