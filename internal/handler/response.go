// Package handler turns HTTP requests into service calls and service
// results into JSON.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/cloudtype/internal/apperror"
)

// maxJSONBody bounds request bodies that are not uploads.
const maxJSONBody = 1 << 20

// ErrorResponse is the body of every error response:
//
//	{"error": "not_found", "message": "identity bob not found"}
//
// Validation errors also name the offending field.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError renders err with the status and kind from
// apperror.HTTPStatus. Validation and conflict responses name the field.
func writeError(w http.ResponseWriter, err error) {
	status, kind := apperror.HTTPStatus(err)
	resp := ErrorResponse{Error: kind, Message: apperror.InternalMessage}

	var appErr *apperror.AppError
	if status != http.StatusInternalServerError && errors.As(err, &appErr) {
		resp.Message = appErr.Message
		if status == http.StatusBadRequest || status == http.StatusConflict {
			resp.Field = appErr.Field
		}
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a single JSON object from the request body into dst.
// Any failure is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("", "request body is required")
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("", fmt.Sprintf("request body must be at most %d bytes", maxErr.Limit))
		default:
			return apperror.ValidationFailed("", "invalid JSON body")
		}
	}
	return nil
}
