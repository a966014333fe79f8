// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	chi "github.com/go-chi/chi/v5"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize = 1024 * 1024
)

// ValidationError represents a validation error response
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// IDValidator creates a middleware that validates request ids in URL parameters
func IDValidator(paramName string) func(http.Handler) http.Handler {
	// Valid ID pattern: alphanumeric, dots, underscores and hyphens, 1-128 characters
	validIDPattern := regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, paramName)

			if id == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !validIDPattern.MatchString(id) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or is too long", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// EventValidator rejects bodies that are not a JSON object naming an event type,
// either as eventType or as the custom resource RequestType
func EventValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := parseAndRestoreBody(r)
			if err != nil {
				writeValidationError(w, err.Error(), "body")
				return
			}

			if err := validateEventType(body); err != nil {
				writeValidationError(w, err.Error(), "eventType")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// parseAndRestoreBody reads, parses, and restores the request body with size limit
func parseAndRestoreBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("request body is required")
	}

	limitedReader := io.LimitReader(r.Body, MaxRequestBodySize)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}

	// Check if we hit the limit by trying to read one more byte
	if n, _ := io.Copy(io.Discard, r.Body); n > 0 {
		return nil, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
	}

	_ = r.Body.Close()

	var body map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &body); err != nil || body == nil {
		return nil, fmt.Errorf("invalid JSON in request body")
	}

	// Restore the body for the next handler
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	return body, nil
}

func validateEventType(body map[string]interface{}) error {
	for _, field := range []string{"eventType", "RequestType"} {
		raw, present := body[field]
		if !present {
			continue
		}
		value, ok := raw.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be a non-empty string", field)
		}
		return nil
	}
	return fmt.Errorf("eventType is required")
}

// ContentTypeValidator ensures requests have proper content type
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				// Check if request has a body (Content-Length > 0 or Transfer-Encoding is set)
				if r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") != "" {
					contentType := r.Header.Get("Content-Type")
					if !strings.HasPrefix(contentType, "application/json") {
						writeValidationError(w, "Content-Type must be application/json", "header")
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeValidationError writes a validation error response
func writeValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := ValidationError{
		Error:   "validation_error",
		Message: message,
		Field:   field,
	}

	// Best effort: the status code is already sent
	_ = json.NewEncoder(w).Encode(response)
}
