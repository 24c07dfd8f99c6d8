package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devmatch/messaging/internal/logger"
)

// Error code classes surfaced to clients. Messages stay short and stable;
// storage-engine detail never leaks.
const (
	codeAuthentication = "authentication_error"
	codeAuthorization  = "authorization_error"
	codeValidation     = "validation_error"
	codeNotFound       = "not_found"
	codeInternal       = "persistence_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
