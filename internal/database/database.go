package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrMissingDatabaseConfig is returned when the connection settings are incomplete
var ErrMissingDatabaseConfig = errors.New("database host, user and name are required")

func Connect(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" {
		return nil, ErrMissingDatabaseConfig
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)

	db, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}

	// Set connection pool limits
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Open opens a gorm connection on any dialector and migrates the schema
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates tables and the uniqueness constraints the pipeline relies on
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.MonitoredEntity{},
		&models.ChainCursor{},
		&models.AlertEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// At most one active registration per (user, chain, address)
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_active_unique ON monitored_entities(user_id, chain, address) WHERE active").Error; err != nil {
		return fmt.Errorf("failed to create entity uniqueness index: %w", err)
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_entities_chain_active ON monitored_entities(chain, active)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_alerts_chain_pending ON alert_events(chain, delivered, created_at)")

	return nil
}

// IsUniqueViolation reports whether err comes from a uniqueness constraint
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// LockTx takes a transaction-scoped advisory lock on Postgres so that
// read-then-insert sequences sharing key run one at a time. Other dialects
// serialize writers on their own and need nothing.
func LockTx(tx *gorm.DB, key int64) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
		return fmt.Errorf("failed to take advisory lock %d: %w", key, err)
	}
	return nil
}
