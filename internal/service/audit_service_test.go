package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

// gatedEventRepo blocks Append until the gate is opened.
type gatedEventRepo struct {
	mu     sync.Mutex
	events []domain.LoginEvent
	gate   chan struct{}
}

func (r *gatedEventRepo) Append(_ context.Context, e *domain.LoginEvent) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *gatedEventRepo) Recent(context.Context, int) ([]domain.LoginEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LoginEvent(nil), r.events...), nil
}

func (r *gatedEventRepo) LastSuccessFor(context.Context, uint) (*domain.LoginEvent, error) {
	return nil, repository.ErrLoginEventNotFound
}

func (r *gatedEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAuditServiceFlushWritesEverythingRecorded(t *testing.T) {
	repo := &gatedEventRepo{}
	svc := NewAuditService(repo, 16, discardLogger())
	defer svc.Close()

	for i := 0; i < 10; i++ {
		svc.Record(context.Background(), domain.LoginEvent{Reason: domain.ReasonInvalidCredentials})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if repo.count() != 10 {
		t.Fatalf("expected 10 events, got %d", repo.count())
	}
	events, _ := svc.Recent(ctx, 10)
	if events[0].CreatedAt.IsZero() {
		t.Fatal("CreatedAt must be stamped at record time")
	}
}

func TestAuditServiceDropsWhenFullWithoutBlocking(t *testing.T) {
	repo := &gatedEventRepo{gate: make(chan struct{})}
	svc := NewAuditService(repo, 2, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			svc.Record(context.Background(), domain.LoginEvent{Reason: domain.ReasonLoginSuccess, Success: true})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	if svc.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}

	close(repo.gate)
	svc.Close()
	if got := uint64(repo.count()) + svc.Dropped(); got != 20 {
		t.Fatalf("written+dropped = %d want 20", got)
	}

	svc.Record(context.Background(), domain.LoginEvent{Reason: domain.ReasonLoginSuccess})
	if got := uint64(repo.count()) + svc.Dropped(); got != 21 {
		t.Fatal("record after close must be counted as dropped")
	}
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
}
