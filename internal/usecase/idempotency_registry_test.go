package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
	"github.com/iho/transferengine/internal/usecase/mocks"
)

func draftTransfer(key string, amount int64) *domain.Transfer {
	t := &domain.Transfer{
		IdempotencyKey:  key,
		SourceAccountID: "src",
		DestAccountID:   "dst",
		Amount:          amount,
		Currency:        "USD",
	}
	t.Fingerprint = domain.ComputeFingerprint(t.SourceAccountID, t.DestAccountID, t.Amount, t.Currency, t.Reference)
	return t
}

func TestIdempotencyRegistry_RegisterOrGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.registry.RegisterOrGet(ctx, draftTransfer("k1", 10))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Outcome != domain.Reserved || first.Transfer.State != domain.TransferStateReceived {
		t.Fatalf("expected reserved RECEIVED transfer, got %v %s", first.Outcome, first.Transfer.State)
	}

	stored, err := h.transfers.GetByID(ctx, first.Transfer.ID)
	if err != nil {
		t.Fatalf("transfer not persisted with reservation: %v", err)
	}
	if stored.IdempotencyKey != "k1" {
		t.Errorf("stored key = %q", stored.IdempotencyKey)
	}

	second, err := h.registry.RegisterOrGet(ctx, draftTransfer("k1", 10))
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.Outcome != domain.Existing || second.Transfer.ID != first.Transfer.ID {
		t.Errorf("expected existing %s, got %v %s", first.Transfer.ID, second.Outcome, second.Transfer.ID)
	}

	if _, err := h.registry.RegisterOrGet(ctx, draftTransfer("k1", 11)); !errors.Is(err, domain.ErrIdempotencyKeyConflict) {
		t.Errorf("expected ErrIdempotencyKeyConflict, got %v", err)
	}

	other := draftTransfer("k1", 10)
	other.SourceAccountID = "other-src"
	other.Fingerprint = domain.ComputeFingerprint(other.SourceAccountID, other.DestAccountID, other.Amount, other.Currency, other.Reference)
	scoped, err := h.registry.RegisterOrGet(ctx, other)
	if err != nil {
		t.Fatalf("register other source: %v", err)
	}
	if scoped.Outcome != domain.Reserved {
		t.Error("keys are scoped per source account")
	}
}

func TestIdempotencyRegistry_CacheHitSkipsStorage(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCache(ctrl)
	transferRepo := mocks.NewMockTransferRepository(ctrl)

	draft := draftTransfer("k", 10)
	data, _ := json.Marshal(map[string]any{
		"transfer_id":   "t-cached",
		"fingerprint":   draft.Fingerprint,
		"first_seen_at": time.Now().UTC(),
	})
	cache.EXPECT().Get(gomock.Any(), "idempotency:src:k").Return(data, nil)
	transferRepo.EXPECT().GetByID(gomock.Any(), "t-cached").
		Return(&domain.Transfer{ID: "t-cached", State: domain.TransferStateSettled}, nil)

	registry := usecase.NewIdempotencyRegistry(
		mocks.NewMockTransactionManager(ctrl),
		mocks.NewMockIdempotencyRepository(ctrl),
		transferRepo,
		cache,
		mocks.NewMockIDGenerator(ctrl),
		time.Hour,
		zerolog.Nop(),
	)

	reg, err := registry.RegisterOrGet(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Outcome != domain.Existing || reg.Transfer.ID != "t-cached" {
		t.Errorf("got %v %s", reg.Outcome, reg.Transfer.ID)
	}
}

func TestIdempotencyRegistry_PruneKeepsInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	x := h.funded(t, "x", 100)
	y := h.funded(t, "y", 0)

	if _, err := submit(h, "done", x, y, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.risk.set(domain.DecisionHold)
	held, err := submit(h, "pending", x, y, 10)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	registry := usecase.NewIdempotencyRegistry(h.txManager, h.idemRepo, h.transfers, nil, h.idGen, time.Nanosecond, zerolog.Nop())
	time.Sleep(time.Millisecond)

	pruned, err := registry.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned < 1 {
		t.Errorf("expected terminal records to be pruned, got %d", pruned)
	}

	if _, err := h.idemRepo.Get(ctx, x.ID, "done"); !errors.Is(err, domain.ErrIdempotencyNotFound) {
		t.Errorf("settled record should be pruned, got %v", err)
	}
	rec, err := h.idemRepo.Get(ctx, x.ID, "pending")
	if err != nil {
		t.Fatalf("held transfer lost its key: %v", err)
	}
	if rec.TransferID != held.Transfer.ID {
		t.Errorf("record points at %s", rec.TransferID)
	}
}

// ttlCache records the TTL of every write and never hits.
type ttlCache struct {
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (c *ttlCache) Get(context.Context, string) ([]byte, error) { return nil, nil }

func (c *ttlCache) Set(_ context.Context, key string, _ []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttls == nil {
		c.ttls = map[string]time.Duration{}
	}
	c.ttls[key] = ttl
	return nil
}

func (c *ttlCache) Delete(context.Context, string) error { return nil }

func (c *ttlCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl, ok := c.ttls[key]
	return ttl, ok
}

func TestIdempotencyRegistry_CacheTTLBoundedByRetention(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		min, max  time.Duration
	}{
		{"short retention shortens entries", 10 * time.Minute, 9 * time.Minute, 10 * time.Minute},
		{"long retention keeps the cap", 24 * time.Hour, time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			cache := &ttlCache{}
			registry := usecase.NewIdempotencyRegistry(h.txManager, h.idemRepo, h.transfers, cache, h.idGen, tt.retention, zerolog.Nop())

			if _, err := registry.RegisterOrGet(context.Background(), draftTransfer("k", 10)); err != nil {
				t.Fatalf("register: %v", err)
			}

			ttl, ok := cache.ttl("idempotency:src:k")
			if !ok {
				t.Fatal("reservation was not cached")
			}
			if ttl < tt.min || ttl > tt.max {
				t.Errorf("ttl = %s, want within [%s, %s]", ttl, tt.min, tt.max)
			}
		})
	}
}

func TestIdempotencyRegistry_ExpiredRecordNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCache(ctrl)
	txManager := mocks.NewMockTransactionManager(ctrl)
	tx := mocks.NewMockTransaction(ctrl)
	idemRepo := mocks.NewMockIdempotencyRepository(ctrl)
	transferRepo := mocks.NewMockTransferRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)

	draft := draftTransfer("k", 10)
	old := &domain.IdempotencyRecord{
		Key:             "k",
		SourceAccountID: "src",
		TransferID:      "t-old",
		Fingerprint:     draft.Fingerprint,
		FirstSeenAt:     time.Now().UTC().Add(-2 * time.Hour),
	}

	cache.EXPECT().Get(gomock.Any(), "idempotency:src:k").Return(nil, nil)
	txManager.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	idGen.EXPECT().Generate().Return("t-new")
	idemRepo.EXPECT().Insert(gomock.Any(), tx, gomock.Any()).Return(false, nil)
	tx.EXPECT().Rollback(gomock.Any()).Return(nil)
	idemRepo.EXPECT().Get(gomock.Any(), "src", "k").Return(old, nil)
	transferRepo.EXPECT().GetByID(gomock.Any(), "t-old").
		Return(&domain.Transfer{ID: "t-old", State: domain.TransferStateSettled}, nil)
	// No cache.Set: the record is past retention and may be pruned any moment.

	registry := usecase.NewIdempotencyRegistry(txManager, idemRepo, transferRepo, cache, idGen, time.Hour, zerolog.Nop())

	reg, err := registry.RegisterOrGet(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Outcome != domain.Existing || reg.Transfer.ID != "t-old" {
		t.Errorf("got %v %s", reg.Outcome, reg.Transfer.ID)
	}
}
