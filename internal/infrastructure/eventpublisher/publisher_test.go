package eventpublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/infrastructure/metrics"
	"github.com/iho/transferengine/internal/usecase"
)

func event(id, transferID string, seq int64) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            id,
		AggregateType: domain.AggregateTypeTransfer,
		AggregateID:   transferID,
		EventType:     domain.EventTypeTransferSettled,
		Sequence:      seq,
	}
}

func TestProcessEventsPublishesAndMarks(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{event("evt-1", "tr-1", 1)}}
	pub := &stubPublisher{}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	ep := newTestPublisher(repo, pub)
	ep.metrics = m

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents failed: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	if got := repo.markedIDs(); len(got) != 1 || got[0] != "evt-1" {
		t.Fatalf("expected event to be marked published, got %#v", got)
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues(domain.EventTypeTransferSettled)); got != 1 {
		t.Fatalf("published counter = %v", got)
	}
}

func TestProcessEventsHoldsBackSuccessorsOfFailedEvent(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{
			event("evt-1", "tr-1", 1),
			event("evt-2", "tr-2", 1),
			event("evt-3", "tr-1", 2),
			event("evt-4", "tr-2", 2),
		},
	}
	pub := &stubPublisher{errorsByID: map[string]error{"evt-1": errors.New("fail")}}
	ep := newTestPublisher(repo, pub)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}

	got := pub.ids()
	if len(got) != 2 || got[0] != "evt-2" || got[1] != "evt-4" {
		t.Fatalf("expected only tr-2 events, got %v", got)
	}

	// The sink recovers: the next poll delivers tr-1 in order.
	pub.clearErrors()
	repo.dropMarked()
	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}
	got = pub.ids()
	if len(got) != 4 || got[2] != "evt-1" || got[3] != "evt-3" {
		t.Fatalf("expected tr-1 delivered in order, got %v", got)
	}
}

func TestProcessEventsHoldsBackWhenMarkFails(t *testing.T) {
	repo := &stubOutboxRepo{
		events:    []*domain.OutboxEvent{event("evt-1", "tr-1", 1), event("evt-2", "tr-1", 2)},
		markError: map[string]error{"evt-1": errors.New("db down")},
	}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}
	if got := pub.ids(); len(got) != 1 || got[0] != "evt-1" {
		t.Fatalf("expected evt-2 held back, got %v", got)
	}
}

func TestProcessEventsPropagatesFetchError(t *testing.T) {
	repo := &stubOutboxRepo{fetchErr: domain.ErrStorageUnavailable}
	ep := newTestPublisher(repo, &stubPublisher{})

	if err := ep.processEvents(context.Background()); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestTickDeletesExpiredEvents(t *testing.T) {
	repo := &stubOutboxRepo{}
	ep := newTestPublisher(repo, &stubPublisher{})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ep.now = func() time.Time { return now }
	ep.retention = time.Hour

	ep.tick(context.Background())

	if !repo.deletedBefore.Equal(now.Add(-time.Hour)) {
		t.Fatalf("deleted before %v, want %v", repo.deletedBefore, now.Add(-time.Hour))
	}
}

func TestStartStopsOnContextCancellation(t *testing.T) {
	repo := &stubOutboxRepo{}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub)
	ep.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ep.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after cancel")
	}
}

func TestTickSerializesReplicasSharingAnOutbox(t *testing.T) {
	held := event("evt-1", "tr-1", 1)
	held.EventType = domain.EventTypeTransferHeld
	settled := event("evt-2", "tr-1", 2)
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{held, settled}}

	consumer := &stubPublisher{}
	gate := &gatedPublisher{
		gateID:  "evt-1",
		entered: make(chan struct{}),
		release: make(chan struct{}),
		next:    consumer,
	}
	lock := &tryLocker{}

	replicaA := NewEventPublisher(Config{OutboxRepo: repo, Publisher: gate, Logger: zerolog.Nop(), BatchSize: 10, Locks: lock})
	replicaB := NewEventPublisher(Config{OutboxRepo: repo, Publisher: consumer, Logger: zerolog.Nop(), BatchSize: 10, Locks: lock})

	done := make(chan struct{})
	go func() {
		replicaA.tick(context.Background())
		close(done)
	}()

	// Replica A is stuck delivering seq 1; B polls meanwhile.
	<-gate.entered
	replicaB.tick(context.Background())
	if got := consumer.ids(); len(got) != 0 {
		t.Fatalf("replica B delivered %v while A held the outbox", got)
	}

	close(gate.release)
	<-done
	replicaB.tick(context.Background())

	got := consumer.ids()
	if len(got) != 2 || got[0] != "evt-1" || got[1] != "evt-2" {
		t.Fatalf("expected [evt-1 evt-2] exactly once, got %v", got)
	}
}

func TestTickSkipsWhenLockFails(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{event("evt-1", "tr-1", 1)}}
	pub := &stubPublisher{}
	ep := NewEventPublisher(Config{
		OutboxRepo: repo,
		Publisher:  pub,
		Logger:     zerolog.Nop(),
		Locks:      failingLocker{err: errors.New("redis down")},
	})

	ep.tick(context.Background())

	if got := pub.ids(); len(got) != 0 {
		t.Fatalf("expected no delivery without the lock, got %v", got)
	}
}

func newTestPublisher(repo *stubOutboxRepo, pub *stubPublisher) *EventPublisher {
	return NewEventPublisher(Config{
		OutboxRepo: repo,
		Publisher:  pub,
		Logger:     zerolog.Nop(),
		BatchSize:  10,
		Interval:   5 * time.Millisecond,
	})
}

type stubOutboxRepo struct {
	mu            sync.Mutex
	events        []*domain.OutboxEvent
	marked        map[string]bool
	markError     map[string]error
	fetchErr      error
	deletedBefore time.Time
}

var _ usecase.OutboxRepository = (*stubOutboxRepo)(nil)

func (s *stubOutboxRepo) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	return nil
}

func (s *stubOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var out []*domain.OutboxEvent
	for _, e := range s.events {
		if s.marked[e.ID] {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubOutboxRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markError[id]; err != nil {
		return err
	}
	if s.marked == nil {
		s.marked = make(map[string]bool)
	}
	s.marked[id] = true
	return nil
}

func (s *stubOutboxRepo) markedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.events {
		if s.marked[e.ID] {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// dropMarked removes published events, as a later poll would not see them.
func (s *stubOutboxRepo) dropMarked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, e := range s.events {
		if !s.marked[e.ID] {
			kept = append(kept, e)
		}
	}
	s.events = kept
}

func (s *stubOutboxRepo) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	return nil, nil
}

func (s *stubOutboxRepo) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBefore = before
	return 0, nil
}

type stubPublisher struct {
	mu         sync.Mutex
	published  []*domain.OutboxEvent
	errorsByID map[string]error
}

func (s *stubPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errorsByID[event.ID]; err != nil {
		return err
	}
	s.published = append(s.published, event)
	return nil
}

func (s *stubPublisher) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.published))
	for _, e := range s.published {
		ids = append(ids, e.ID)
	}
	return ids
}

func (s *stubPublisher) clearErrors() {
	s.mu.Lock()
	s.errorsByID = nil
	s.mu.Unlock()
}

// tryLocker is an in-process usecase.LockManager that never waits.
type tryLocker struct {
	mu sync.Mutex
}

func (l *tryLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if !l.mu.TryLock() {
		return usecase.ErrLockNotAcquired
	}
	defer l.mu.Unlock()
	return fn(ctx)
}

type failingLocker struct {
	err error
}

func (l failingLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return l.err
}

// gatedPublisher blocks on gateID until release is closed.
type gatedPublisher struct {
	gateID  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	next    Publisher
}

func (g *gatedPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	if event.ID == g.gateID {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.next.Publish(ctx, event)
}
