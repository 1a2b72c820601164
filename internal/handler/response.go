package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/hitoshi/accountman/internal/middleware"
	"github.com/hitoshi/accountman/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限（1 MiB）。
const maxRequestBodyBytes = 1 << 20

// messageResponse はメッセージのみを返すレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeMessage は{"message": ...}形式の200レスポンスを書き込む。
func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, messageResponse{Message: message})
}

// decodeJSON はリクエストボディをdstにデコードする。
// 1 MiBを超えるボディ、未知のフィールド、複数のJSON値はエラーとする。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewValidationError("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("Request body is required")
		}
		return model.NewValidationError("Invalid request body")
	}
	if dec.More() {
		return model.NewValidationError("Request body must contain a single JSON object")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーはログとSentryに送り、詳細を伏せた500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)

	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidToken:
		return http.StatusBadRequest
	case model.ErrCodeEmailAlreadyExists:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeAccountLocked, model.ErrCodeEmailNotVerified, model.ErrCodeInvalidRefreshToken:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
