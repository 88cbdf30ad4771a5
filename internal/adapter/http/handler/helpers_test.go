package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/iho/transferengine/internal/adapter/http/dto"
	"github.com/iho/transferengine/internal/domain"
)

// withURLParams attaches chi route parameters to req.
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/accounts?limit=50", nil)
	if got := parseIntQuery(req, "limit", 10); got != 50 {
		t.Fatalf("expected limit=50, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/accounts?limit=invalid", nil)
	if got := parseIntQuery(req, "limit", 10); got != 10 {
		t.Fatalf("expected fallback to default, got %d", got)
	}

	req.URL = &url.URL{RawQuery: ""}
	if got := parseIntQuery(req, "limit", 25); got != 25 {
		t.Fatalf("expected default when missing, got %d", got)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"account not found", domain.ErrAccountNotFound, http.StatusNotFound},
		{"transfer not found", domain.ErrTransferNotFound, http.StatusNotFound},
		{"invalid amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"currency mismatch", domain.ErrCurrencyMismatch, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("%w: bad", domain.ErrInvalidCurrency), http.StatusBadRequest},
		{"key conflict", domain.ErrIdempotencyKeyConflict, http.StatusConflict},
		{"hold resolved differently", domain.ErrHoldAlreadyResolved, http.StatusConflict},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"risk rejected", domain.ErrRiskRejected, http.StatusUnprocessableEntity},
		{"storage unavailable", domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"indeterminate", domain.NewIndeterminateError("tr-1", domain.ErrConcurrencyConflict), http.StatusAccepted},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"insufficient role", domain.ErrInsufficientRole, http.StatusForbidden},
		{"foreign account", fmt.Errorf("%w: acc-1", domain.ErrForbidden), http.StatusForbidden},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	payload := map[string]string{"status": "ok"}

	writeJSON(rr, http.StatusCreated, payload)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var decoded map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if decoded["status"] != "ok" {
		t.Fatalf("expected payload to round-trip, got %+v", decoded)
	}
}

func TestWriteDomainErrorHidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeDomainError(rr, "failed", errors.New("pq: password authentication failed"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	resp := decodeError(t, rr)
	if resp.Message != "" || resp.Kind != string(domain.KindInternal) {
		t.Fatalf("internal error leaked: %+v", resp)
	}

	rr = httptest.NewRecorder()
	writeDomainError(rr, "failed", domain.ErrInsufficientFunds)
	resp = decodeError(t, rr)
	if resp.Kind != string(domain.KindResource) || resp.Message == "" {
		t.Fatalf("expected resource error with message, got %+v", resp)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"ADMIT","extra":1}`))
		var dst dto.ResolveHoldRequest
		if decodeJSON(rr, req, &dst) {
			t.Fatal("expected decode failure")
		}
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"MAYBE"}`))
		var dst dto.ResolveHoldRequest
		if decodeJSON(rr, req, &dst) {
			t.Fatal("expected validation failure")
		}
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if resp := decodeError(t, rr); resp.Kind != string(domain.KindValidation) {
			t.Fatalf("expected validation kind, got %+v", resp)
		}
	})

	t.Run("valid", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"REJECT"}`))
		var dst dto.ResolveHoldRequest
		if !decodeJSON(rr, req, &dst) {
			t.Fatalf("unexpected failure: %s", rr.Body.String())
		}
		if dst.Decision != "REJECT" {
			t.Fatalf("unexpected decision %q", dst.Decision)
		}
	})
}
