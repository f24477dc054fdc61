package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"custody/internal/apperr"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": string(kind)})
}

// respondAppError writes err with the status for its kind. Anything that is
// not an apperr.Error is logged and hidden behind a 500.
func respondAppError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, apperr.KindInternal, "internal server error")
		return
	}
	respondError(w, statusFor(appErr.Kind), appErr.Kind, appErr.Message)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidAmount, apperr.KindInsufficientBalance, apperr.KindSameWalletTransfer,
		apperr.KindInvalidWalletNumber, apperr.KindInvalidExpiry, apperr.KindInvalidPermission,
		apperr.KindRolloverNotAllowed, apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindWalletNotFound, apperr.KindTransactionNotFound, apperr.KindKeyNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateReference, apperr.KindWalletExists:
		return http.StatusConflict
	case apperr.KindKeyLimitExceeded:
		return http.StatusForbidden
	case apperr.KindInvalidSignature, apperr.KindUnauthorized, apperr.KindExpiredKey:
		return http.StatusUnauthorized
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidRequest, "invalid payload")
		return false
	}
	return true
}
