// Package ledger is the deduplicating alert store.
//
// The unique index on (chain, tx_id, entity_id) is the only thing standing
// between a retried cycle and a repeated alert, so inserts go through an
// ON CONFLICT DO NOTHING and the affected row count decides whether the
// caller saw the activity first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/chainwatch/internal/metrics"
	"github.com/wnt/chainwatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by MarkDelivered for an unknown event
var ErrNotFound = errors.New("alert event not found")

// Details is the activity data stored with a new alert event
type Details struct {
	Timestamp   time.Time
	Direction   models.Direction
	Amount      decimal.Decimal
	Asset       string
	Counterpart string
}

// DetailsFrom copies the ledger fields out of an activity record
func DetailsFrom(rec models.ActivityRecord) Details {
	return Details{
		Timestamp:   rec.Timestamp,
		Direction:   rec.Direction,
		Amount:      rec.Amount,
		Asset:       rec.Asset,
		Counterpart: rec.Counterpart(),
	}
}

type Ledger struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func New(db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// RecordIfNew inserts an alert event unless the (chain, txID, entityID) triple
// already exists. created is false for a repeat, and the returned event then
// carries the details stored by the first call.
func (l *Ledger) RecordIfNew(ctx context.Context, chain models.Chain, txID string, entityID uint, d Details) (bool, *models.AlertEvent, error) {
	event := &models.AlertEvent{
		Chain:       chain,
		TxID:        txID,
		EntityID:    entityID,
		Timestamp:   d.Timestamp.UTC(),
		Direction:   d.Direction,
		Amount:      d.Amount,
		Asset:       d.Asset,
		Counterpart: d.Counterpart,
	}

	result := l.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, nil, fmt.Errorf("failed to record alert %s/%s/%d: %w", chain, txID, entityID, result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.RecordAlertCreated(chain.String())
		l.logger.Debug().
			Str("chain", chain.String()).
			Str("tx_id", txID).
			Uint("entity_id", entityID).
			Msg("Recorded new alert event")
		return true, event, nil
	}

	existing, err := l.Find(ctx, chain, txID, entityID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// Find loads the event stored for a triple
func (l *Ledger) Find(ctx context.Context, chain models.Chain, txID string, entityID uint) (*models.AlertEvent, error) {
	var event models.AlertEvent
	err := l.db.WithContext(ctx).
		Where("chain = ? AND tx_id = ? AND entity_id = ?", chain, txID, entityID).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s/%s/%d: %w", chain, txID, entityID, err)
	}
	return &event, nil
}

// MarkDelivered flags an event as delivered. Marking twice keeps the first delivery time.
func (l *Ledger) MarkDelivered(ctx context.Context, eventID uint) error {
	result := l.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("id = ? AND delivered = ?", eventID, false).
		Updates(map[string]interface{}{
			"delivered":    true,
			"delivered_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark alert %d delivered: %w", eventID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&models.AlertEvent{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check alert %d: %w", eventID, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// Pending returns up to limit undelivered events of a chain, oldest first,
// with their entity loaded for rendering. Events of removed entities are
// left out: their owner stopped monitoring the address.
func (l *Ledger) Pending(ctx context.Context, chain models.Chain, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	var events []models.AlertEvent
	if err := l.db.WithContext(ctx).
		Preload("Entity").
		Joins("JOIN monitored_entities ON monitored_entities.id = alert_events.entity_id AND monitored_entities.active = ?", true).
		Where("alert_events.chain = ? AND alert_events.delivered = ?", chain, false).
		Order("alert_events.created_at, alert_events.id").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending alerts for %s: %w", chain, err)
	}
	return events, nil
}

// ForEntity returns the most recent events of an entity, newest first
func (l *Ledger) ForEntity(ctx context.Context, entityID uint, limit int) ([]models.AlertEvent, error) {
	var events []models.AlertEvent
	if err := l.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts for entity %d: %w", entityID, err)
	}
	return events, nil
}
