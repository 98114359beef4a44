package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/review"
)

// Error codes returned in the response envelope.
const (
	CodeMissingInput = "MISSING_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeInternal     = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeError maps service errors onto the envelope. Anything unrecognized is
// an internal error; the message is passed through because this surface is
// operator-facing, not public.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, review.ErrNotPending),
		errors.Is(err, review.ErrMissingReason),
		errors.Is(err, commit.ErrNotApproved),
		errors.Is(err, commit.ErrTierNotBinding),
		errors.Is(err, commit.ErrEvidenceInvalid),
		errors.Is(err, commit.ErrWindowConflict):
		writeErrorCode(w, http.StatusConflict, CodeInvalidState, err.Error())
	default:
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
