package poller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/ledger"
	"github.com/wnt/chainwatch/internal/metrics"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/notify"
)

// Alert pairs a ledger event with the entity it belongs to
type Alert struct {
	Entity models.MonitoredEntity
	Event  models.AlertEvent
}

// Alerter records matches in the ledger and delivers the new ones. Delivery
// failures never fail a cycle; the event stays pending for the next one.
type Alerter struct {
	ledger          *ledger.Ledger
	dispatcher      notify.Dispatcher
	redeliveryLimit int
}

func NewAlerter(l *ledger.Ledger, dispatcher notify.Dispatcher, redeliveryLimit int) *Alerter {
	return &Alerter{
		ledger:          l,
		dispatcher:      dispatcher,
		redeliveryLimit: redeliveryLimit,
	}
}

// Record stores each qualifying record once per entity and returns the alerts
// created by this call. A storage error aborts so the cursor is not advanced
// past unrecorded activity.
func (a *Alerter) Record(ctx context.Context, chain models.Chain, entity models.MonitoredEntity, records []models.ActivityRecord) ([]Alert, error) {
	var created []Alert
	for _, rec := range records {
		ok, event, err := a.ledger.RecordIfNew(ctx, chain, rec.Hash, entity.ID, ledger.DetailsFrom(rec))
		if err != nil {
			return created, fmt.Errorf("failed to record %s for entity %d: %w", rec.Hash, entity.ID, err)
		}
		if ok {
			created = append(created, Alert{Entity: entity, Event: *event})
		}
	}
	return created, nil
}

// Pending returns undelivered alerts of a chain left over from earlier cycles
func (a *Alerter) Pending(ctx context.Context, chain models.Chain) ([]Alert, error) {
	if a.redeliveryLimit <= 0 {
		return nil, nil
	}
	events, err := a.ledger.Pending(ctx, chain, a.redeliveryLimit)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(events))
	for _, event := range events {
		alerts = append(alerts, Alert{Entity: event.Entity, Event: event})
	}
	return alerts, nil
}

// Deliver sends alerts in order and marks each delivered one. It returns how
// many were delivered and how many stay pending.
func (a *Alerter) Deliver(ctx context.Context, alerts []Alert, log zerolog.Logger) (delivered, failed int) {
	for _, alert := range alerts {
		chain := alert.Event.Chain.String()
		text := notify.Render(alert.Entity, alert.Event)

		if err := a.dispatcher.Deliver(ctx, alert.Entity.UserID, text); err != nil {
			metrics.RecordDelivery(chain, false)
			failed++
			log.Warn().
				Err(err).
				Uint("event_id", alert.Event.ID).
				Str("tx_id", alert.Event.TxID).
				Msg("Alert delivery failed, will retry next cycle")
			continue
		}
		metrics.RecordDelivery(chain, true)

		if err := a.ledger.MarkDelivered(ctx, alert.Event.ID); err != nil {
			// Delivered but not marked: the next cycle sends it again
			failed++
			log.Error().Err(err).Uint("event_id", alert.Event.ID).Msg("Failed to mark alert delivered")
			continue
		}
		delivered++
	}
	return delivered, failed
}
