// Package audit delivers patch lifecycle events. Delivery is synchronous and a
// failed delivery fails the transition that produced the event.
package audit

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Sink receives audit events.
type Sink interface {
	Write(ctx context.Context, ev models.AuditEvent) error
}

// Repository is the persistence needed by StoreSink.
type Repository interface {
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
	ListAuditEvents(ctx context.Context, patchID string) ([]models.AuditEvent, error)
}

// StoreSink persists events alongside the patch records.
type StoreSink struct {
	repo Repository
}

// NewStoreSink wraps repo.
func NewStoreSink(repo Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Write persists ev.
func (s *StoreSink) Write(ctx context.Context, ev models.AuditEvent) error {
	if err := s.repo.InsertAuditEvent(ctx, ev); err != nil {
		return utils.Wrap("audit.StoreSink.Write", "persist audit event", utils.ErrAudit, err)
	}
	return nil
}

// Trail returns the recorded events of one patch, oldest first.
func (s *StoreSink) Trail(ctx context.Context, patchID string) ([]models.AuditEvent, error) {
	return s.repo.ListAuditEvents(ctx, patchID)
}

// MultiSink writes to every sink in order and stops at the first failure.
type MultiSink []Sink

// Write delivers ev to all sinks.
func (m MultiSink) Write(ctx context.Context, ev models.AuditEvent) error {
	if len(m) == 0 {
		return utils.Wrap("audit.MultiSink.Write", "no audit sink configured", utils.ErrAudit, errors.New("empty sink list"))
	}
	for _, sink := range m {
		if err := sink.Write(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
