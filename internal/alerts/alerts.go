// Package alerts holds operator-facing alerts and their acknowledgement state.
package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/clock"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Repository is the persistence used by Store.
type Repository interface {
	InsertAlert(ctx context.Context, a models.Alert) error
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (bool, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
}

// DefaultListLimit caps listings that do not set a limit.
const DefaultListLimit = 100

// Store raises, acknowledges and lists alerts.
type Store struct {
	repo   Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore wraps repo.
func NewStore(repo Repository, c clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, clock: clock.OrSystem(c), logger: logger}
}

// Raise creates an unacknowledged alert. runID is optional.
func (s *Store) Raise(ctx context.Context, severity models.Severity, message, runID string) (models.Alert, error) {
	const op = "alerts.Raise"
	if !severity.Valid() {
		return models.Alert{}, utils.Validation(op, "unknown severity "+string(severity))
	}
	if strings.TrimSpace(message) == "" {
		return models.Alert{}, utils.Validation(op, "message is required")
	}
	a := models.Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		RunID:     runID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertAlert(ctx, a); err != nil {
		return models.Alert{}, err
	}
	metrics.ObserveAlert(string(severity))
	s.logger.Warn("alert raised",
		slog.String("alert_id", a.ID),
		slog.String("severity", string(severity)),
		slog.String("run_id", runID),
		slog.String("message", message))
	return a, nil
}

// Acknowledge marks an alert as seen by an operator. Acknowledging an
// acknowledged alert returns it unchanged.
func (s *Store) Acknowledge(ctx context.Context, id, by string) (models.Alert, error) {
	if _, err := s.repo.AcknowledgeAlert(ctx, id, by, s.clock.Now()); err != nil {
		return models.Alert{}, err
	}
	return s.repo.GetAlert(ctx, id)
}

// Get loads one alert.
func (s *Store) Get(ctx context.Context, id string) (models.Alert, error) {
	return s.repo.GetAlert(ctx, id)
}

// List returns alerts newest first.
func (s *Store) List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	alerts, err := s.repo.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}
