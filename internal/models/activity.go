package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is relative to the monitored address
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ActivityRecord is one value transfer touching a monitored address.
// It is produced by chain readers and never persisted as such.
type ActivityRecord struct {
	Hash         string
	Timestamp    time.Time
	Direction    Direction
	Address      string   // the monitored address, normalized
	Counterparts []string // normalized
	Amount       decimal.Decimal
	Asset        string
}

// Counterpart returns the first counterpart address or an empty string
func (r ActivityRecord) Counterpart() string {
	if len(r.Counterparts) == 0 {
		return ""
	}
	return r.Counterparts[0]
}

// ToUnits converts an integer amount in the chain's smallest unit to a decimal
// rounded to 8 places, half away from zero.
func ToUnits(raw decimal.Decimal, decimals int32) decimal.Decimal {
	return raw.Shift(-decimals).Round(8)
}
