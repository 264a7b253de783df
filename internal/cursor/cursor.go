// Package cursor tracks how far each chain, or each monitored entity, has been scanned.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/metrics"
	"github.com/wnt/chainwatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRegression is returned when an advance would move a chain cursor backwards
	ErrRegression = errors.New("cursor advance would move backwards")
	// ErrCursorMoved is returned when an entity cursor changed since it was read
	ErrCursorMoved = errors.New("entity cursor changed concurrently")
)

// Manager reads and advances progress cursors.
// Block-family chains share one height per chain; signature-family
// entities each carry their own last seen signature.
type Manager struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewManager(db *gorm.DB, logger zerolog.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger.With().Str("component", "cursor").Logger(),
	}
}

// ChainHeight returns the last fully scanned height; ok is false for an unseeded chain
func (m *Manager) ChainHeight(ctx context.Context, chain models.Chain) (uint64, bool, error) {
	var cur models.ChainCursor
	err := m.db.WithContext(ctx).Where("chain = ?", chain).Take(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor for %s: %w", chain, err)
	}
	return cur.Height, true, nil
}

// SeedChain creates the chain cursor at height unless one exists, and
// returns the stored height. Concurrent seeders converge on the first writer.
func (m *Manager) SeedChain(ctx context.Context, chain models.Chain, height uint64) (uint64, error) {
	cur := models.ChainCursor{Chain: chain, Height: height, UpdatedAt: time.Now().UTC()}
	if err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&cur).Error; err != nil {
		return 0, fmt.Errorf("failed to seed cursor for %s: %w", chain, err)
	}

	stored, ok, err := m.ChainHeight(ctx, chain)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("cursor for %s missing after seed", chain)
	}

	m.logger.Info().Str("chain", chain.String()).Uint64("height", stored).Msg("Seeded chain cursor")
	metrics.SetCursorHeight(chain.String(), stored)
	return stored, nil
}

// AdvanceChain moves the chain cursor to height. The update is conditional on the
// stored height not exceeding the new one, so the cursor never decreases.
func (m *Manager) AdvanceChain(ctx context.Context, chain models.Chain, height uint64) error {
	result := m.db.WithContext(ctx).
		Model(&models.ChainCursor{}).
		Where("chain = ? AND height <= ?", chain, height).
		Updates(map[string]interface{}{
			"height":     height,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance cursor for %s: %w", chain, result.Error)
	}
	if result.RowsAffected == 0 {
		stored, ok, err := m.ChainHeight(ctx, chain)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cursor for %s is not seeded", chain)
		}
		return fmt.Errorf("%w: %s stored %d, requested %d", ErrRegression, chain, stored, height)
	}

	metrics.SetCursorHeight(chain.String(), height)
	return nil
}

// EntityCursor returns the last seen signature of an entity
func (m *Manager) EntityCursor(ctx context.Context, entityID uint) (string, error) {
	var entity models.MonitoredEntity
	if err := m.db.WithContext(ctx).Select("id", "last_signature").Take(&entity, entityID).Error; err != nil {
		return "", fmt.Errorf("failed to read cursor for entity %d: %w", entityID, err)
	}
	return entity.Cursor, nil
}

// AdvanceEntity swaps an entity cursor from previous to next.
// It fails with ErrCursorMoved if another poller advanced it first.
func (m *Manager) AdvanceEntity(ctx context.Context, entityID uint, previous, next string) error {
	if previous == next {
		return nil
	}

	result := m.db.WithContext(ctx).
		Model(&models.MonitoredEntity{}).
		Where("id = ? AND last_signature = ?", entityID, previous).
		Update("last_signature", next)
	if result.Error != nil {
		return fmt.Errorf("failed to advance cursor for entity %d: %w", entityID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: entity %d", ErrCursorMoved, entityID)
	}
	return nil
}
