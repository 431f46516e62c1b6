// Package httputil writes the uniform response envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "error": {"code": 1002, "message": "document not found"}}
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "didledger/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; documents are small.
const maxBodyBytes = 1 << 20

// Envelope is the body of every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse carries the stable numeric code and a caller-safe message.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a success envelope with data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// WriteError translates err into a failure envelope. Errors without a domain
// code, and internal errors, are reported without their details.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	message := "internal server error"
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal {
		code = de.Code
		message = de.Message
	}
	write(w, dErrors.HTTPStatus(code), Envelope{
		Error: &ErrorResponse{Code: dErrors.Numeric(code), Message: message},
	})
}

// DecodeJSON strictly decodes a request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
