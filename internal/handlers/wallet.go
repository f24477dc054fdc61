package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"custody/internal/apperr"
	"custody/internal/middleware"
	"custody/internal/money"
	"custody/internal/services"

	"github.com/go-chi/chi/v5"
)

const idempotencyHeader = "Idempotency-Key"

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type transferRequest struct {
	WalletNumber string `json:"wallet_number"`
	Amount       int64  `json:"amount"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.payments.InitiateDeposit(r.Context(), userID, req.Amount)
	if err != nil {
		respondAppError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (h *Handler) DepositStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	reference := chi.URLParam(r, "reference")
	force, _ := strconv.ParseBool(r.URL.Query().Get("live_verify"))
	txn, err := h.payments.PollStatus(r.Context(), userID, reference, force)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"reference": txn.Reference,
		"status":    txn.Status,
		"amount":    txn.Amount,
		"paid_at":   txn.PaidAt,
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.wallets.GetByUserID(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"wallet_number": wallet.WalletNumber,
		"balance":       wallet.Balance,
		"formatted":     money.FormatMinor(wallet.Balance),
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.transfers.Transfer(r.Context(), services.TransferRequest{
		UserID:                userID,
		RecipientWalletNumber: strings.TrimSpace(req.WalletNumber),
		Amount:                req.Amount,
		IdempotencyKey:        r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           result.Status,
		"message":          "Transfer completed successfully",
		"reference":        result.Reference,
		"amount":           result.Amount,
		"recipient_wallet": result.RecipientWalletNumber,
		"created_at":       result.CreatedAt,
	})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.GetByUserID(r.Context(), userID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	rows, err := h.history.History(r.Context(), services.HistoryQuery{
		UserID:   userID,
		WalletID: wallet.ID,
		Type:     r.URL.Query().Get("type"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func parsePage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := 0, 0
	var err error
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, apperr.KindInvalidRequest, "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			respondError(w, http.StatusBadRequest, apperr.KindInvalidRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}
