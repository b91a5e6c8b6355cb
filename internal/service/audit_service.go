package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

const auditWriteTimeout = 5 * time.Second

type auditItem struct {
	event   *domain.LoginEvent
	flushed chan struct{}
}

// AuditService appends login events on a background worker. Recording never
// blocks or fails the request that produced the event; a full buffer drops
// the event and logs it.
type AuditService struct {
	repo   repository.LoginEventRepository
	logger *slog.Logger

	ch        chan auditItem
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewAuditService(repo repository.LoginEventRepository, bufferSize int, logger *slog.Logger) *AuditService {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &AuditService{
		repo:   repo,
		logger: logger,
		ch:     make(chan auditItem, bufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AuditService) run() {
	defer s.wg.Done()
	for {
		select {
		case item := <-s.ch:
			s.handle(item)
		case <-s.done:
			for {
				select {
				case item := <-s.ch:
					s.handle(item)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditService) handle(item auditItem) {
	if item.flushed != nil {
		close(item.flushed)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := s.repo.Append(ctx, item.event); err != nil {
		s.logger.Error("login event append failed",
			"reason", item.event.Reason,
			"success", item.event.Success,
			"error", err,
		)
	}
}

// Record enqueues the event. CreatedAt is stamped here so ordering reflects
// when the decision was made, not when the worker got to it.
func (s *AuditService) Record(ctx context.Context, e domain.LoginEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if s.closed.Load() {
		s.drop(ctx, &e, "closed")
		return
	}
	select {
	case s.ch <- auditItem{event: &e}:
	default:
		s.drop(ctx, &e, "buffer_full")
	}
}

func (s *AuditService) drop(ctx context.Context, e *domain.LoginEvent, why string) {
	s.dropped.Add(1)
	observability.RecordAuditDropped(ctx, why)
	s.logger.WarnContext(ctx, "login event dropped", "why", why, "reason", e.Reason, "success", e.Success)
}

// Flush waits until every event recorded before the call has been written.
func (s *AuditService) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	marker := auditItem{flushed: make(chan struct{})}
	select {
	case s.ch <- marker:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains buffered events and stops the worker.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
}

func (s *AuditService) Dropped() uint64 { return s.dropped.Load() }

func (s *AuditService) Recent(ctx context.Context, limit int) ([]domain.LoginEvent, error) {
	return s.repo.Recent(ctx, limit)
}

func (s *AuditService) LastSuccessFor(ctx context.Context, userID uint) (*domain.LoginEvent, error) {
	return s.repo.LastSuccessFor(ctx, userID)
}
