package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/service"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps an error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	if kind, ok := bet.LedgerKindOf(err); ok {
		switch kind {
		case bet.KindAlreadyClaimed:
			return http.StatusConflict, string(kind)
		case bet.KindUnavailable:
			return http.StatusServiceUnavailable, string(kind)
		case bet.KindUnconfirmed:
			return http.StatusGatewayTimeout, string(kind)
		default:
			return http.StatusUnprocessableEntity, string(kind)
		}
	}
	switch {
	case errors.Is(err, bet.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, bet.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrClaimInProgress):
		return http.StatusConflict, "claim_in_progress"
	case errors.Is(err, bet.ErrIneligibleClaim):
		return http.StatusUnprocessableEntity, "ineligible_claim"
	case errors.Is(err, bet.ErrAttestationMismatch):
		return http.StatusConflict, "attestation_mismatch"
	case errors.Is(err, bet.ErrWalletConnection):
		return http.StatusServiceUnavailable, "wallet_connection"
	case errors.Is(err, bet.ErrOracle):
		return http.StatusBadGateway, "oracle"
	case errors.Is(err, bet.ErrProofService):
		return http.StatusBadGateway, "proof_service"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		logger.Info().Err(err).Str("code", code).Msg("request rejected")
	}
	writeJSON(w, status, errorResponse{
		Error:     code,
		Message:   bet.UserMessage(err),
		RequestID: RequestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
