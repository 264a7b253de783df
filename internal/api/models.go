package api

import (
	"time"

	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/poller"
	"github.com/wnt/chainwatch/internal/rpc"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /api/entities
type RegisterRequest struct {
	UserID    string `json:"user_id"`
	Chain     string `json:"chain"`
	Address   string `json:"address"`
	Label     string `json:"label"`
	MinAmount string `json:"min_amount"`
}

// EntityResponse represents a monitored entity
type EntityResponse struct {
	ID        uint         `json:"id"`
	UserID    string       `json:"user_id"`
	Chain     models.Chain `json:"chain"`
	Address   string       `json:"address"`
	Label     string       `json:"label,omitempty"`
	MinAmount string       `json:"min_amount"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
}

func entityResponse(e models.MonitoredEntity) EntityResponse {
	return EntityResponse{
		ID:        e.ID,
		UserID:    e.UserID,
		Chain:     e.Chain,
		Address:   e.Address,
		Label:     e.Label,
		MinAmount: e.MinAmount.String(),
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}

// AlertResponse represents a recorded alert event
type AlertResponse struct {
	ID          uint             `json:"id"`
	Chain       models.Chain     `json:"chain"`
	TxID        string           `json:"tx_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Direction   models.Direction `json:"direction"`
	Amount      string           `json:"amount"`
	Asset       string           `json:"asset"`
	Counterpart string           `json:"counterpart,omitempty"`
	Delivered   bool             `json:"delivered"`
}

func alertResponse(e models.AlertEvent) AlertResponse {
	return AlertResponse{
		ID:          e.ID,
		Chain:       e.Chain,
		TxID:        e.TxID,
		Timestamp:   e.Timestamp,
		Direction:   e.Direction,
		Amount:      e.Amount.String(),
		Asset:       e.Asset,
		Counterpart: e.Counterpart,
		Delivered:   e.Delivered,
	}
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status     string         `json:"status"`
	Time       time.Time      `json:"time"`
	Schedulers []poller.Stats `json:"schedulers,omitempty"`
	Pools      []rpc.Stats    `json:"pools,omitempty"`
}
