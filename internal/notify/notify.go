// Package notify renders alert events and hands them to a delivery channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/models"
)

// Dispatcher delivers rendered alert text to a destination, which is the
// owning user of the monitored entity. Implementations do not retry: an
// undelivered alert stays pending in the ledger and is offered again on a
// later cycle.
type Dispatcher interface {
	Deliver(ctx context.Context, destination, text string) error
	Close() error
}

// Message is the envelope published by the queue-backed dispatchers
type Message struct {
	Destination string    `json:"destination"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// New builds the dispatcher selected by NOTIFY_MODE
func New(cfg config.Config, logger zerolog.Logger) (Dispatcher, error) {
	switch cfg.NotifyMode {
	case "", "log":
		return NewLogDispatcher(logger), nil
	case "webhook":
		return NewWebhookDispatcher(cfg.WebhookURL, cfg.WebhookToken, cfg.RPCTimeout, logger), nil
	case "redis":
		return NewRedisDispatcher(cfg.RedisURL, logger)
	case "kafka":
		return NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	default:
		return nil, fmt.Errorf("unknown notify mode %q", cfg.NotifyMode)
	}
}

// Render formats an alert event for a human reader
func Render(entity models.MonitoredEntity, event models.AlertEvent) string {
	var b strings.Builder

	arrow, verb := "↓", "Received"
	if event.Direction == models.DirectionOut {
		arrow, verb = "↑", "Sent"
	}
	fmt.Fprintf(&b, "%s %s %s %s on %s\n", arrow, verb, event.Amount.String(), event.Asset, strings.ToUpper(event.Chain.String()))

	if entity.Label != "" {
		fmt.Fprintf(&b, "Wallet: %s (%s)\n", entity.Label, Shorten(entity.Address))
	} else {
		fmt.Fprintf(&b, "Wallet: %s\n", Shorten(entity.Address))
	}
	if event.Counterpart != "" {
		label := "From"
		if event.Direction == models.DirectionOut {
			label = "To"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, Shorten(event.Counterpart))
	}
	fmt.Fprintf(&b, "Tx: %s\n", Shorten(event.TxID))
	fmt.Fprintf(&b, "Time: %s", event.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))

	if info, ok := event.Chain.Info(); ok && info.ExplorerTx != "" {
		fmt.Fprintf(&b, "\n%s%s", info.ExplorerTx, event.TxID)
	}
	return b.String()
}

// Shorten keeps the head and tail of long identifiers
func Shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
