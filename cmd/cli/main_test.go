package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/auth"
)

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func newAPI(t *testing.T, status int, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.RequestURI()
		rec.header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	printJSON(&buf, []byte(`{"a":1}`))
	if buf.String() != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("unexpected json output:\n%s", buf.String())
	}

	buf.Reset()
	printJSON(&buf, []byte("not json"))
	if buf.String() != "not json\n" {
		t.Fatalf("expected raw passthrough, got %q", buf.String())
	}
}

func TestTransferSubmit_SendsIdempotencyKeyAndToken(t *testing.T) {
	srv, rec := newAPI(t, http.StatusCreated, `{"id":"t1","state":"SETTLED"}`)

	out, _, err := execute(t, "--url", srv.URL, "--token", "tok",
		"transfer", "submit", "--key", "k-1", "--from", "a", "--to", "b", "--amount", "25.50", "--currency", "USD")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if rec.method != http.MethodPost || rec.path != "/api/v1/transfers" {
		t.Fatalf("unexpected request %s %s", rec.method, rec.path)
	}
	if got := rec.header.Get("Idempotency-Key"); got != "k-1" {
		t.Fatalf("expected idempotency key k-1, got %q", got)
	}
	if got := rec.header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if rec.body["amount"] != "25.50" || rec.body["source_account_id"] != "a" {
		t.Fatalf("unexpected body %v", rec.body)
	}
	if !strings.Contains(out, `"state": "SETTLED"`) {
		t.Fatalf("expected transfer in output, got %s", out)
	}
}

func TestTransferSubmit_IndeterminateWarns(t *testing.T) {
	srv, _ := newAPI(t, http.StatusAccepted, `{"id":"t1","outcome":"indeterminate"}`)

	_, errOut, err := execute(t, "--url", srv.URL,
		"transfer", "submit", "--key", "k-1", "--from", "a", "--to", "b", "--amount", "1", "--currency", "USD")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !strings.Contains(errOut, "unconfirmed") {
		t.Fatalf("expected warning on stderr, got %q", errOut)
	}
}

func TestTransferResolve(t *testing.T) {
	srv, rec := newAPI(t, http.StatusOK, `{"id":"t1","state":"SETTLED"}`)

	if _, _, err := execute(t, "--url", srv.URL, "transfer", "resolve", "t1", "--decision", "ADMIT"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if rec.path != "/api/v1/transfers/t1/resolve" || rec.body["decision"] != "ADMIT" {
		t.Fatalf("unexpected request %s %v", rec.path, rec.body)
	}
}

func TestAccountBalance_At(t *testing.T) {
	srv, rec := newAPI(t, http.StatusOK, `{"balance":"10.00"}`)

	if _, _, err := execute(t, "--url", srv.URL, "account", "balance", "acc1", "--at", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if rec.path != "/api/v1/accounts/acc1/balance?at=2024-01-01T00%3A00%3A00Z" {
		t.Fatalf("unexpected path %s", rec.path)
	}
}

func TestAccountGet_ErrorResponse(t *testing.T) {
	srv, _ := newAPI(t, http.StatusNotFound, `{"error":"failed to get account","kind":"not_found","message":"account not found"}`)

	_, _, err := execute(t, "--url", srv.URL, "account", "get", "missing")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "account not found") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLedgerConsistency(t *testing.T) {
	srv, _ := newAPI(t, http.StatusOK, `{"consistent":true}`)
	out, _, err := execute(t, "--url", srv.URL, "ledger", "consistency")
	if err != nil {
		t.Fatalf("consistency failed: %v", err)
	}
	if !strings.Contains(out, "PASSED") {
		t.Fatalf("expected PASSED, got %s", out)
	}

	bad, _ := newAPI(t, http.StatusConflict, `{"consistent":false}`)
	out, _, err = execute(t, "--url", bad.URL, "ledger", "consistency")
	if err == nil {
		t.Fatal("expected error for inconsistent ledger")
	}
	if !strings.Contains(out, "FAILED") {
		t.Fatalf("expected FAILED, got %s", out)
	}
}

func TestTokenCmd_IssuesVerifiableToken(t *testing.T) {
	out, _, err := execute(t, "token", "--secret", "s3cret", "--issuer", "test", "--subject", "rev-1", "--role", "reviewer", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	subject, err := auth.NewJWTManager("s3cret", "test", time.Hour).Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject.ID != "rev-1" || subject.Role != domain.RoleReviewer {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestTokenCmd_RejectsUnknownRole(t *testing.T) {
	if _, _, err := execute(t, "token", "--secret", "s", "--subject", "x", "--role", "root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, _, err := execute(t, "migrate", "up"); err == nil {
		t.Fatal("expected error without a database URL")
	}
}

func TestAccountCreate_SendsOwner(t *testing.T) {
	srv, rec := newAPI(t, http.StatusCreated, `{"id":"acc1","owner_id":"u-7"}`)

	if _, _, err := execute(t, "--url", srv.URL, "account", "create", "--name", "Alice", "--currency", "USD", "--owner", "u-7"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.path != "/api/v1/accounts" || rec.body["owner_id"] != "u-7" {
		t.Fatalf("unexpected request %s %v", rec.path, rec.body)
	}
}
