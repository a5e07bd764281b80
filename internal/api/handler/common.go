package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/bcnelson/stack-executor/internal/api/middleware"
	"github.com/bcnelson/stack-executor/internal/domain"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
	})
}

// statusFor maps a domain error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict, "resource busy"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, domain.ErrRemoteAgent):
		return http.StatusBadGateway, "remote agent error"
	case errors.Is(err, domain.ErrCredentialRetrieval):
		return http.StatusInternalServerError, "credential retrieval failed"
	case errors.Is(err, domain.ErrInterpolation):
		return http.StatusInternalServerError, "interpolation failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	details := ""
	if classified(err) {
		details = err.Error()
	}
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
		Details: details,
	})
}

// classified reports whether err wraps one of the domain sentinels, whose
// messages are safe to show.
func classified(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrAlreadyExists, domain.ErrBusy, domain.ErrInvalidInput,
		domain.ErrUnauthorized, domain.ErrPermissionDenied, domain.ErrRemoteAgent,
		domain.ErrCredentialRetrieval, domain.ErrInterpolation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// currentUser returns the user the request acts as.
func currentUser(r *http.Request) *domain.User {
	return middleware.GetUserFromContext(r.Context())
}

// requireAdmin writes a 403 and returns false for non-admin users.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := currentUser(r)
	if user == nil || !user.Admin {
		respondError(w, http.StatusForbidden, "admin required")
		return false
	}
	return true
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = "stx_" + hex.EncodeToString(bytes)
	hash = hashKey(key)
	prefix = key[:12] // "stx_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
