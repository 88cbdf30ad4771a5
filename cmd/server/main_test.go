package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/adapter/repository/memory"
	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/config"
	"github.com/iho/transferengine/internal/infrastructure/eventpublisher"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORAGE_BACKEND", config.StorageMemory)
	t.Setenv("REDIS_URL", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("AUTH_ENABLED", "false")

	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_MemoryBackendServesTransfers(t *testing.T) {
	cfg := memoryConfig(t)

	a, err := newApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	var ids []string
	for _, acc := range []map[string]string{
		{"name": "Funding", "currency": "USD", "type": "FUNDING"},
		{"name": "Alice", "currency": "USD", "type": "CHECKING"},
	} {
		rec := postJSON(t, a.handler, "/api/v1/accounts", acc)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create account: status %d body %s", rec.Code, rec.Body.String())
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("decode account: %v", err)
		}
		ids = append(ids, created.ID)
	}

	rec := postJSON(t, a.handler, "/api/v1/transfers", map[string]string{
		"idempotency_key":   "boot-1",
		"source_account_id": ids[0],
		"dest_account_id":   ids[1],
		"amount":            "500.00",
		"currency":          "USD",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit transfer: status %d body %s", rec.Code, rec.Body.String())
	}
	var tr struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if tr.State != string(domain.TransferStateSettled) {
		t.Fatalf("expected SETTLED, got %s", tr.State)
	}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	ready := httptest.NewRecorder()
	a.handler.ServeHTTP(ready, req)
	if ready.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", ready.Code)
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RateLimitRPS = 100
	cfg.OutboxPollInterval = 10 * time.Millisecond

	a, err := newApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{StorageBackend: "sqlite"}
	if _, err := newStorage(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewCoordination_WithoutRedis(t *testing.T) {
	coord, err := newCoordination(context.Background(), &config.Config{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("newCoordination: %v", err)
	}
	if coord.cache != nil || coord.locks != nil {
		t.Fatal("expected nil cache and lock manager without REDIS_URL")
	}
	coord.close()
}

func TestNewRiskEngine_Defaults(t *testing.T) {
	cfg := memoryConfig(t)
	history := memory.NewTransferRepository(memory.NewStore())

	engine, err := newRiskEngine(cfg.Risk, history, zerolog.Nop(), metrics.NewWithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("newRiskEngine: %v", err)
	}
	if engine.Version() != cfg.Risk.RulesetVersion {
		t.Fatalf("expected version %s, got %s", cfg.Risk.RulesetVersion, engine.Version())
	}
}

func TestNewRiskEngine_RejectsBadThresholds(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Risk.HoldThreshold = 0.8
	cfg.Risk.RejectThreshold = 0.2
	history := memory.NewTransferRepository(memory.NewStore())

	if _, err := newRiskEngine(cfg.Risk, history, zerolog.Nop(), nil); err == nil {
		t.Fatal("expected error for inverted thresholds")
	}
}

func TestNewEventSink_LogOnly(t *testing.T) {
	sink, closeFn, err := newEventSink(&config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newEventSink: %v", err)
	}
	defer closeFn()

	if _, ok := sink.(*eventpublisher.LogPublisher); !ok {
		t.Fatalf("expected log sink, got %T", sink)
	}
}

func TestCommitRetryConfig(t *testing.T) {
	cfg := &config.Config{
		CommitMaxAttempts:    3,
		CommitInitialBackoff: 10 * time.Millisecond,
		CommitMaxBackoff:     100 * time.Millisecond,
	}

	rc := commitRetryConfig(cfg)
	if rc.MaxAttempts != 3 || rc.InitialInterval != 10*time.Millisecond || rc.MaxInterval != 100*time.Millisecond {
		t.Fatalf("unexpected retry config %+v", rc)
	}
	if rc.MaxElapsedTime != 600*time.Millisecond {
		t.Fatalf("expected 600ms max elapsed, got %s", rc.MaxElapsedTime)
	}
}

type namedLock string

func (namedLock) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestLeaderLock_PrefersRedisThenStorage(t *testing.T) {
	redisLock, storeLock := namedLock("redis"), namedLock("postgres")

	if got := leaderLock(&coordination{locks: redisLock}, &storage{locks: storeLock}); got != redisLock {
		t.Fatalf("expected redis lock, got %v", got)
	}
	if got := leaderLock(&coordination{}, &storage{locks: storeLock}); got != storeLock {
		t.Fatalf("expected storage lock, got %v", got)
	}
	if got := leaderLock(&coordination{}, &storage{}); got != nil {
		t.Fatalf("expected no lock for the memory backend, got %v", got)
	}
}
