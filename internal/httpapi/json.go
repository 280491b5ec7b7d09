package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/quickmatch"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, notice string) {
	writeJSON(w, status, errorBody{Error: msg, Notice: notice})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, challenge.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, challenge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, challenge.ErrInvalidTransition),
		errors.Is(err, quickmatch.ErrAlreadyStarted),
		errors.Is(err, challenge.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
