package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"tiernet.org/internal/audit"
	"tiernet.org/internal/network"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, code int, message string, data any) {
	writeJSON(w, code, envelope{
		Status:    "success",
		Message:   message,
		Data:      data,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	writeJSON(w, code, envelope{
		Status:    "error",
		Message:   message,
		Code:      errCode,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// statusFor maps a core failure onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, network.ErrNotEntryOwner) {
		return http.StatusForbidden
	}
	switch network.KindOf(err) {
	case network.KindValidation:
		return http.StatusBadRequest
	case network.KindNotFound:
		return http.StatusNotFound
	case network.KindStateConflict:
		return http.StatusConflict
	case network.KindResourceExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeNetworkError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("operation failed",
			zap.String("op", op),
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeError(w, r, status, network.CodeOf(err), msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
