package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps service sentinel errors onto HTTP statuses:
// unknown jobs and articles are 404, cancelling a finished job is 400,
// rejected batches are 422, anything else is a 500 with the detail kept
// out of the response body.
func WriteServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound), errors.Is(err, interfaces.ErrArticleNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, interfaces.ErrJobTerminal):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrEmptyBatch), errors.Is(err, interfaces.ErrInvalidURL):
		return WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
