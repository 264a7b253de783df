package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredEntity is one (user, chain, address) tracking registration
type MonitoredEntity struct {
	ID        uint            `gorm:"primaryKey"`
	UserID    string          `gorm:"size:64;index;not null"`
	Chain     Chain           `gorm:"size:16;index;not null"`
	Address   string          `gorm:"size:64;index;not null"`
	Label     string          `gorm:"size:128"`
	MinAmount decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0"`
	Active    bool            `gorm:"index;not null;default:true"`
	// Cursor is the last seen signature for signature-family chains.
	// Block-family entities share the chain cursor and leave it empty.
	Cursor    string `gorm:"column:last_signature;size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name used by the raw index statements
func (MonitoredEntity) TableName() string {
	return "monitored_entities"
}

// Qualifies reports whether an amount meets the entity's inclusive minimum
func (e MonitoredEntity) Qualifies(amount decimal.Decimal) bool {
	return !amount.LessThan(e.MinAmount)
}

// ChainCursor is the shared progress marker of a block-family chain
type ChainCursor struct {
	Chain     Chain  `gorm:"primaryKey;size:16"`
	Height    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (ChainCursor) TableName() string {
	return "chain_cursors"
}
