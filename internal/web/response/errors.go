// Package response renders JSON bodies and maps domain errors to HTTP statuses
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/conduit-lang/querycache/internal/orm/crud"
	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RenderJSON writes v with the given status
func RenderJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// RenderError renders a standard error response
func RenderError(w http.ResponseWriter, statusCode int, err error) {
	RenderErrorWithCode(w, statusCode, err, "")
}

// RenderErrorWithCode renders an error with a specific error code
func RenderErrorWithCode(w http.ResponseWriter, statusCode int, err error, code string) {
	if code == "" {
		code = errorCodeFromStatus(statusCode)
	}

	resp := &ErrorResponse{
		Error:   "error",
		Message: err.Error(),
		Code:    code,
	}

	var ve *crud.ValidationError
	if errors.As(err, &ve) {
		resp.Error = "validation_failed"
		resp.Fields = make(map[string]string, len(ve.Errors))
		for _, fe := range ve.Errors {
			resp.Fields[fe.Field] = fe.Message
		}
	}

	RenderJSON(w, statusCode, resp)
}

// RenderBadRequest renders a 400 Bad Request error
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, fmt.Errorf("%s", message))
}

// RenderNotFound renders a 404 Not Found error
func RenderNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RenderError(w, http.StatusNotFound, fmt.Errorf("%s", message))
}

// RenderDomainError picks the status for an error returned by the query and
// cache layer and renders it
func RenderDomainError(w http.ResponseWriter, err error) {
	RenderError(w, StatusFor(err), err)
}

// StatusFor maps the error taxonomy to an HTTP status
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case crud.IsNotFound(err):
		return http.StatusNotFound
	case crud.IsValidationError(err):
		return http.StatusUnprocessableEntity
	case crud.IsNoRowsAffected(err), crud.IsUniqueViolation(err), crud.IsForeignKeyViolation(err):
		return http.StatusConflict
	case errors.Is(err, transaction.ErrTransactionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout:
		return "gateway_timeout"
	default:
		return "error"
	}
}
