package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/cursor"
	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/solana"
	"github.com/wnt/chainwatch/internal/utils"
	"golang.org/x/sync/errgroup"
)

// SignatureReader is the signature-family scanning surface
type SignatureReader interface {
	Chain() models.Chain
	Scan(ctx context.Context, address, cursor string) (solana.ScanResult, error)
}

// SignatureCycle polls every entity of a signature-family chain against its
// own cursor. One entity failing leaves the others untouched.
type SignatureCycle struct {
	reader   SignatureReader
	entities EntityLister
	cursors  *cursor.Manager
	alerter  *Alerter
	fanout   int
}

func NewSignatureCycle(reader SignatureReader, entities EntityLister, cursors *cursor.Manager, alerter *Alerter, fanout int) *SignatureCycle {
	if fanout < 1 {
		fanout = 1
	}
	return &SignatureCycle{
		reader:   reader,
		entities: entities,
		cursors:  cursors,
		alerter:  alerter,
		fanout:   fanout,
	}
}

func (c *SignatureCycle) Chain() models.Chain {
	return c.reader.Chain()
}

type entityOutcome struct {
	records   int
	matches   int
	delivered int
	failed    int
	created   int
}

// Run fails only when every entity failed, which is what the scheduler
// backs off on
func (c *SignatureCycle) Run(ctx context.Context, log zerolog.Logger) (Report, error) {
	chain := c.Chain()
	report := Report{Chain: chain}

	pending, err := c.alerter.Pending(ctx, chain)
	if err != nil {
		return report, err
	}
	report.Delivered, report.Undelivered = c.alerter.Deliver(ctx, pending, log)

	entities, err := c.entities.ListActive(ctx, chain)
	if err != nil {
		return report, err
	}
	report.Entities = len(entities)
	if len(entities) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.fanout)
	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			entityLog := logger.WithEntity(log, entity.ID, entity.Address)
			out, err := c.runEntity(ctx, entity, entityLog)

			mu.Lock()
			defer mu.Unlock()
			report.Records += out.records
			report.Matches += out.matches
			report.Created += out.created
			report.Delivered += out.delivered
			report.Undelivered += out.failed
			if err != nil {
				report.Failed++
				errs = append(errs, err)
				entityLog.Error().Err(err).Msg("Entity scan failed, cursor unchanged")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(errs) == len(entities) {
		return report, fmt.Errorf("all %d %s entities failed: %w", len(entities), chain, errors.Join(errs...))
	}
	return report, nil
}

func (c *SignatureCycle) runEntity(ctx context.Context, entity models.MonitoredEntity, log zerolog.Logger) (entityOutcome, error) {
	var out entityOutcome

	result, err := c.reader.Scan(ctx, entity.Address, entity.Cursor)
	if err != nil {
		return out, err
	}
	out.records = len(result.Records)

	matches := utils.Filter(result.Records, func(rec models.ActivityRecord) bool {
		return entity.Qualifies(rec.Amount)
	})
	out.matches = len(matches)

	created, err := c.alerter.Record(ctx, c.Chain(), entity, matches)
	if err != nil {
		return out, err
	}
	out.created = len(created)
	out.delivered, out.failed = c.alerter.Deliver(ctx, created, log)

	if err := c.cursors.AdvanceEntity(ctx, entity.ID, entity.Cursor, result.Cursor); err != nil {
		if errors.Is(err, cursor.ErrCursorMoved) {
			// Someone else advanced it; the ledger already absorbed the overlap
			log.Warn().Err(err).Msg("Entity cursor moved concurrently")
			return out, nil
		}
		return out, err
	}

	if result.NewCount > 0 {
		log.Debug().
			Int("new_signatures", result.NewCount).
			Int("matches", out.matches).
			Bool("cursor_found", result.CursorFound).
			Msg("Scanned signature history")
	}
	return out, nil
}
