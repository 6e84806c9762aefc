package auth

import (
	"encoding/json"
	"net/http"
)

// ErrorCode identifies a login failure in responses. Codes are part of the
// client contract and must not be renumbered.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodeInvalidData
	ErrorCodeInvalidUsername
	ErrorCodeInvalidPassword
	ErrorCodeAccountBlocked
)

// AppError is a typed login failure surfaced to the client as JSON with its
// error code. Wrong username and wrong password stay distinguishable on
// purpose; that matches the product's UX contract.
type AppError struct {
	Message string
	Code    ErrorCode
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(message string, code ErrorCode) *AppError {
	return &AppError{Message: message, Code: code}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, status int, appErr *AppError) {
	writeJSON(w, status, map[string]any{
		"error":     appErr.Message,
		"errorCode": appErr.Code,
	})
}
