package handler

import (
	"booklend/internal/api/handler/dto"
	"booklend/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"code":"INTERNAL","message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// statusFor maps the error taxonomy onto HTTP. Denials and exhausted conflicts are 409:
// the request was well formed but the current state refuses it.
func statusFor(code string) int {
	switch code {
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidArgument, apperrors.CodeInvalidDate:
		return http.StatusBadRequest
	case apperrors.CodeDuplicateActiveLoan, apperrors.CodeLoanLimitExceeded, apperrors.CodeOutOfStock,
		apperrors.CodeAlreadyReturned, apperrors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	status := statusFor(code)
	detail := dto.ErrorDetail{Code: code, Message: err.Error()}

	var validationError *apperrors.ValidationError
	switch {
	case errors.As(err, &validationError):
		detail.Message, detail.Field = validationError.Message, validationError.Field
	case status == http.StatusInternalServerError:
		attrs := []any{"error", err}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			attrs = append(attrs, "app_code", appErr.Code)
		}
		slog.Default().Error("Unhandled internal error", attrs...)
		detail.Message = "An unexpected error occurred."
	}

	respondJSON(w, status, dto.ErrorResponse{Error: detail})
}

func invalidArgument(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
}

func getIDFromURL(r *http.Request, param string) (int64, error) {
	idStr := chi.URLParam(r, param)
	if idStr == "" {
		return 0, fmt.Errorf("%s not found in URL path", param)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", param)
	}
	return id, nil
}
