package apierrors

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response body for every API endpoint.
// APICode mirrors the HTTP status; clients treat 200 as success and
// anything else as a coded failure.
type Envelope struct {
	APICode int         `json:"api_code"`
	APIMsg  string      `json:"api_msg"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorBody is the Data payload of a failed response.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// WriteOK writes a success envelope with the given data.
func WriteOK(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, Envelope{
		APICode: http.StatusOK,
		APIMsg:  "ok",
		Data:    data,
	})
}

// WriteError writes a failure envelope derived from the error code.
func WriteError(w http.ResponseWriter, code ErrorCode, message string) {
	status := code.HTTPStatus()
	writeEnvelope(w, status, Envelope{
		APICode: status,
		APIMsg:  message,
		Data:    ErrorBody{Code: code, Message: message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding a value we built cannot fail in a way the client can still see.
	_ = json.NewEncoder(w).Encode(env)
}
