package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertEvent is the durable, deduplicated record of one qualifying match.
// (Chain, TxID, EntityID) is unique.
type AlertEvent struct {
	ID          uint            `gorm:"primaryKey"`
	Chain       Chain           `gorm:"size:16;not null;uniqueIndex:idx_alert_dedup,priority:1"`
	TxID        string          `gorm:"size:128;not null;uniqueIndex:idx_alert_dedup,priority:2"`
	EntityID    uint            `gorm:"not null;uniqueIndex:idx_alert_dedup,priority:3;index"`
	Timestamp   time.Time       `gorm:"index"`
	Direction   Direction       `gorm:"size:8;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	Asset       string          `gorm:"size:16;not null"`
	Counterpart string          `gorm:"size:64"`
	Delivered   bool            `gorm:"index;not null;default:false"`
	DeliveredAt *time.Time
	CreatedAt   time.Time

	Entity MonitoredEntity `gorm:"foreignKey:EntityID"`
}

func (AlertEvent) TableName() string {
	return "alert_events"
}
