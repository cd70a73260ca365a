package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"dscd/native/dsc"
	"dscd/native/oracle"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// errorKind buckets engine errors into stable machine-readable labels. The
// same labels feed the failure metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, dsc.ErrInvalidAmount),
		errors.Is(err, dsc.ErrUnsupportedAsset),
		errors.Is(err, dsc.ErrConfigMismatch),
		errors.Is(err, dsc.ErrNoAssets):
		return "validation"
	case errors.Is(err, dsc.ErrCollateralUnderflow),
		errors.Is(err, dsc.ErrDebtUnderflow):
		return "underflow"
	case errors.Is(err, dsc.ErrBreaksHealthFactor):
		return "health_factor"
	case errors.Is(err, dsc.ErrHealthFactorOK):
		return "liquidation_precondition"
	case errors.Is(err, dsc.ErrHealthFactorNotImproved):
		return "liquidation_ineffective"
	case errors.Is(err, dsc.ErrTransferFailed):
		return "transfer"
	case errors.Is(err, dsc.ErrMintFailed):
		return "mint"
	case errors.Is(err, dsc.ErrBurnFailed):
		return "burn"
	case errors.Is(err, dsc.ErrReentrantCall):
		return "reentrancy"
	case errors.Is(err, oracle.ErrNoQuote),
		errors.Is(err, oracle.ErrStaleQuote),
		errors.Is(err, oracle.ErrInvalidPrice):
		return "oracle"
	default:
		return "internal"
	}
}

func statusForError(err error) int {
	switch errorKind(err) {
	case "validation", "underflow":
		return http.StatusBadRequest
	case "health_factor", "liquidation_precondition", "liquidation_ineffective":
		return http.StatusConflict
	case "transfer", "mint", "burn":
		return http.StatusUnprocessableEntity
	case "reentrancy":
		return http.StatusServiceUnavailable
	case "oracle":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Kind: errorKind(err)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Kind: "validation"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
