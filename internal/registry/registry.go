// Package registry manages monitored address registrations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/chainwatch/internal/database"
	"github.com/wnt/chainwatch/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidAddress    = models.ErrInvalidAddress
	ErrUnsupportedChain  = models.ErrUnsupportedChain
	ErrNegativeThreshold = errors.New("minimum amount must not be negative")
	ErrInvalidThreshold  = errors.New("minimum amount is not a decimal number")
	ErrMissingUser       = errors.New("user id is required")
	ErrDuplicate         = errors.New("address is already monitored by this user")
	ErrUserLimit         = errors.New("per-user monitoring limit reached")
	ErrGlobalLimit       = errors.New("system-wide monitoring limit reached")
	ErrNotFound          = errors.New("monitored entity not found")
)

const maxLabelLength = 128

// registrationLockKey serializes Register transactions across processes
const registrationLockKey int64 = 0x63776174636872

// Seeder resolves the starting cursor of a new signature-family registration
type Seeder interface {
	LatestSignature(ctx context.Context, address string) (string, error)
}

// Limits bounds the number of active registrations
type Limits struct {
	PerUser int
	Total   int
}

// RegisterRequest carries the operator's input for a new registration
type RegisterRequest struct {
	UserID    string
	Chain     string
	Address   string
	Label     string
	MinAmount string
}

// Registry stores MonitoredEntity records
type Registry struct {
	db      *gorm.DB
	limits  Limits
	seeders map[models.Chain]Seeder
	logger  zerolog.Logger
}

// New creates a registry backed by db
func New(db *gorm.DB, limits Limits, logger zerolog.Logger) *Registry {
	return &Registry{
		db:      db,
		limits:  limits,
		seeders: make(map[models.Chain]Seeder),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// SetSeeder installs the cursor seeder for a signature-family chain
func (r *Registry) SetSeeder(chain models.Chain, seeder Seeder) {
	r.seeders[chain] = seeder
}

// Register validates the request and creates an active registration
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*models.MonitoredEntity, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	chain, err := models.ParseChain(req.Chain)
	if err != nil {
		return nil, err
	}

	address, err := models.NormalizeAddress(chain, req.Address)
	if err != nil {
		return nil, err
	}

	minAmount := decimal.Zero
	if s := strings.TrimSpace(req.MinAmount); s != "" {
		minAmount, err = decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
		}
	}
	if minAmount.IsNegative() {
		return nil, ErrNegativeThreshold
	}

	label := strings.TrimSpace(req.Label)
	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}

	entity := &models.MonitoredEntity{
		UserID:    userID,
		Chain:     chain,
		Address:   address,
		Label:     label,
		MinAmount: minAmount,
		Active:    true,
	}

	// Seed outside the transaction: it is an upstream call
	if seeder, ok := r.seeders[chain]; ok && chain.Family() == models.FamilySignature {
		cursor, err := seeder.LatestSignature(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("failed to seed cursor for %s: %w", address, err)
		}
		entity.Cursor = cursor
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The limit counts below are only exact while no other registration
		// commits in between
		if err := database.LockTx(tx, registrationLockKey); err != nil {
			return err
		}

		var exists int64
		if err := tx.Model(&models.MonitoredEntity{}).
			Where("user_id = ? AND chain = ? AND address = ? AND active = ?", userID, chain, address, true).
			Count(&exists).Error; err != nil {
			return fmt.Errorf("failed to check existing registration: %w", err)
		}
		if exists > 0 {
			return ErrDuplicate
		}

		var perUser int64
		if err := tx.Model(&models.MonitoredEntity{}).
			Where("user_id = ? AND active = ?", userID, true).
			Count(&perUser).Error; err != nil {
			return fmt.Errorf("failed to count user registrations: %w", err)
		}
		if r.limits.PerUser > 0 && perUser >= int64(r.limits.PerUser) {
			return ErrUserLimit
		}

		var total int64
		if err := tx.Model(&models.MonitoredEntity{}).
			Where("active = ?", true).
			Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count registrations: %w", err)
		}
		if r.limits.Total > 0 && total >= int64(r.limits.Total) {
			return ErrGlobalLimit
		}

		if err := tx.Create(entity).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to create registration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Uint("entity_id", entity.ID).
		Str("user_id", userID).
		Str("chain", chain.String()).
		Str("address", address).
		Msg("Registered monitored address")

	return entity, nil
}

// Remove soft-deletes a registration owned by userID
func (r *Registry) Remove(ctx context.Context, userID string, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.MonitoredEntity{}).
		Where("id = ? AND user_id = ? AND active = ?", id, userID, true).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to remove registration %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	r.logger.Info().Uint("entity_id", id).Str("user_id", userID).Msg("Removed monitored address")
	return nil
}

// ListActive returns the active registrations of a chain
func (r *Registry) ListActive(ctx context.Context, chain models.Chain) ([]models.MonitoredEntity, error) {
	var entities []models.MonitoredEntity
	if err := r.db.WithContext(ctx).
		Where("chain = ? AND active = ?", chain, true).
		Order("id").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list active entities for %s: %w", chain, err)
	}
	return entities, nil
}

// ListForUser returns the active registrations owned by a user
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]models.MonitoredEntity, error) {
	var entities []models.MonitoredEntity
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("id").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list entities for user %s: %w", userID, err)
	}
	return entities, nil
}

// Get returns a registration by id, active or not
func (r *Registry) Get(ctx context.Context, id uint) (*models.MonitoredEntity, error) {
	var entity models.MonitoredEntity
	if err := r.db.WithContext(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}
	return &entity, nil
}
