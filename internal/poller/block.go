package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/cursor"
	"github.com/wnt/chainwatch/internal/evm"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/utils"
)

// EntityLister returns the active registrations of a chain
type EntityLister interface {
	ListActive(ctx context.Context, chain models.Chain) ([]models.MonitoredEntity, error)
}

// BlockReader is the block-family scanning surface
type BlockReader interface {
	Chain() models.Chain
	Head(ctx context.Context) (uint64, error)
	Scan(ctx context.Context, from, to uint64, addrs map[string]struct{}) (evm.ScanResult, error)
}

// BlockCycle polls one block-family chain against its shared cursor
type BlockCycle struct {
	reader   BlockReader
	entities EntityLister
	cursors  *cursor.Manager
	alerter  *Alerter
}

func NewBlockCycle(reader BlockReader, entities EntityLister, cursors *cursor.Manager, alerter *Alerter) *BlockCycle {
	return &BlockCycle{
		reader:   reader,
		entities: entities,
		cursors:  cursors,
		alerter:  alerter,
	}
}

func (c *BlockCycle) Chain() models.Chain {
	return c.reader.Chain()
}

// Run scans (cursor, head] and advances the cursor to the last block read
// without a gap. The first cycle of a chain only seeds the cursor at the
// current head: history before registration is never alerted.
func (c *BlockCycle) Run(ctx context.Context, log zerolog.Logger) (Report, error) {
	chain := c.Chain()
	report := Report{Chain: chain}

	head, err := c.reader.Head(ctx)
	if err != nil {
		return report, err
	}

	from, seeded, err := c.cursors.ChainHeight(ctx, chain)
	if err != nil {
		return report, err
	}
	if !seeded {
		stored, err := c.cursors.SeedChain(ctx, chain, head)
		if err != nil {
			return report, err
		}
		report.To = strconv.FormatUint(stored, 10)
		return report, nil
	}
	report.From = strconv.FormatUint(from, 10)
	report.To = report.From

	// Leftovers from earlier cycles go out first, even when no block is new
	pending, err := c.alerter.Pending(ctx, chain)
	if err != nil {
		return report, err
	}
	report.Delivered, report.Undelivered = c.alerter.Deliver(ctx, pending, log)

	if head <= from {
		log.Debug().Uint64("cursor", from).Uint64("head", head).Msg("No new blocks")
		return report, nil
	}

	entities, err := c.entities.ListActive(ctx, chain)
	if err != nil {
		return report, err
	}
	report.Entities = len(entities)

	if len(entities) == 0 {
		// Nothing to match; keep the cursor close to the head so a new
		// registration does not replay old blocks
		if err := c.advance(ctx, head, log); err != nil {
			return report, err
		}
		report.To = strconv.FormatUint(head, 10)
		return report, nil
	}

	byAddress := utils.GroupBy(entities, func(e models.MonitoredEntity) string { return e.Address })
	addrs := make(map[string]struct{}, len(byAddress))
	for addr := range byAddress {
		addrs[addr] = struct{}{}
	}

	result, err := c.reader.Scan(ctx, from, head, addrs)
	if err != nil {
		return report, err
	}
	report.Records = len(result.Records)

	var created []Alert
	for _, rec := range result.Records {
		for _, entity := range byAddress[rec.Address] {
			if !entity.Qualifies(rec.Amount) {
				continue
			}
			report.Matches++
			alerts, err := c.alerter.Record(ctx, chain, entity, []models.ActivityRecord{rec})
			if err != nil {
				return report, err
			}
			created = append(created, alerts...)
		}
	}
	report.Created = len(created)

	delivered, failed := c.alerter.Deliver(ctx, created, log)
	report.Delivered += delivered
	report.Undelivered += failed

	if result.Reached > from {
		if err := c.advance(ctx, result.Reached, log); err != nil {
			return report, err
		}
		report.To = strconv.FormatUint(result.Reached, 10)
	}

	if len(result.Skipped) > 0 {
		log.Warn().
			Uint64("reached", result.Reached).
			Int("skipped", len(result.Skipped)).
			Msg("Block range has gaps, cursor held at last contiguous block")
		if result.Reached == from {
			return report, fmt.Errorf("no progress on %s: block %d unavailable", chain, result.Skipped[0])
		}
	}

	return report, nil
}

// advance moves the chain cursor to height. Losing the race to another
// poller that already moved past height is not a failure: the alerts of this
// cycle are recorded and the cursor only moves forward.
func (c *BlockCycle) advance(ctx context.Context, height uint64, log zerolog.Logger) error {
	err := c.cursors.AdvanceChain(ctx, c.Chain(), height)
	if errors.Is(err, cursor.ErrRegression) {
		log.Warn().Err(err).Uint64("height", height).Msg("Chain cursor already advanced by another poller")
		return nil
	}
	return err
}
