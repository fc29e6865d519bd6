package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodyBytes caps decoded request bodies.
const MaxBodyBytes = 1 << 20

// DecodeJSON decodes a JSON request body into v. Unknown fields are
// ignored; an empty body or trailing data is an error.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// OkJSON writes a JSON response with 200 OK status
func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error writes an error response with the appropriate status code
func Error(w http.ResponseWriter, err error) {
	ErrorWithCode(w, http.StatusBadRequest, err.Error())
}

// ErrorWithCode writes an error response with a specific status code
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, ErrorResponse{Code: code, Message: message})
}

// Unauthorized writes a 401 unauthorized response
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	ErrorWithCode(w, http.StatusUnauthorized, message)
}

// InternalError writes a 500 internal server error response
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	ErrorWithCode(w, http.StatusInternalServerError, message)
}
