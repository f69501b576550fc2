package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conduit-lang/querycache/internal/orm/crud"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

func TestRenderError(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("something went wrong")

	RenderError(w, http.StatusInternalServerError, err)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %v, want %v", w.Code, http.StatusInternalServerError)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Message != "something went wrong" {
		t.Errorf("message = %v, want 'something went wrong'", resp.Message)
	}

	if resp.Code != "internal_error" {
		t.Errorf("code = %v, want 'internal_error'", resp.Code)
	}
}

func TestRenderErrorWithCode(t *testing.T) {
	w := httptest.NewRecorder()

	RenderErrorWithCode(w, http.StatusBadRequest, fmt.Errorf("custom error"), "custom_code")

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if resp.Code != "custom_code" {
		t.Errorf("code = %v, want 'custom_code'", resp.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %v", ct)
	}
}

func TestRenderValidationFields(t *testing.T) {
	w := httptest.NewRecorder()
	err := &crud.ValidationError{
		Table:  "users",
		Errors: []crud.FieldError{{Field: "slug", Message: "unknown column"}},
	}

	RenderDomainError(w, fmt.Errorf("update users: %w", err))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status code = %v, want 422", w.Code)
	}

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if resp.Error != "validation_failed" {
		t.Errorf("error = %v, want validation_failed", resp.Error)
	}
	if resp.Fields["slug"] != "unknown column" {
		t.Errorf("fields = %v", resp.Fields)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"record not found", crud.ErrNotFound, http.StatusNotFound},
		{"table not found", fmt.Errorf("%w: users", schema.ErrTableNotFound), http.StatusNotFound},
		{"unsafe fragment", query.ErrUnsafeFragment, http.StatusUnprocessableEntity},
		{"empty data", crud.ErrEmptyData, http.StatusUnprocessableEntity},
		{"no rows affected", crud.ErrNoRowsAffected, http.StatusConflict},
		{"unique violation", crud.ErrUniqueViolation, http.StatusConflict},
		{"timeout", transaction.ErrTransactionTimeout, http.StatusGatewayTimeout},
		{"other", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderNotFound(t *testing.T) {
	w := httptest.NewRecorder()

	RenderNotFound(w, "")

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if w.Code != http.StatusNotFound || resp.Message != "Resource not found" || resp.Code != "not_found" {
		t.Errorf("unexpected response %d %+v", w.Code, resp)
	}
}
