package common

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/models/dtos/responses"
)

// RespondSuccess sends the standard JSON envelope with data
func RespondSuccess[T any](w http.ResponseWriter, statusCode int, data *T) {
	writeJSON(w, statusCode, responses.APIResponse[T]{
		Status:    "success",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// RespondError sends the standard JSON envelope with an error message
func RespondError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, responses.APIResponse[any]{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     message,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := sonic.ConfigStd.NewEncoder(w).Encode(body); err != nil {
		logging.Error("JSON encode failed", "error", err)
	}
}
