// Package solana reads SOL balance changes from per-address signature history.
package solana

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/chainwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// SignatureSource is the upstream the reader scans
type SignatureSource interface {
	// RecentSignatures returns up to limit signatures, most recent first
	RecentSignatures(ctx context.Context, address string, limit int) ([]Signature, error)
	Transaction(ctx context.Context, signature string) (*TxDetail, error)
}

// Options bounds the work of one scan
type Options struct {
	PageSize int
	Fanout   int
}

// ScanResult is the outcome of one Scan call
type ScanResult struct {
	Records []models.ActivityRecord // oldest first
	// Cursor is the head of the fetched page, or the previous cursor when
	// the address has no history
	Cursor      string
	NewCount    int
	CursorFound bool
}

// Reader turns signature history into activity records
type Reader struct {
	source SignatureSource
	opts   Options
	logger zerolog.Logger
}

func NewReader(source SignatureSource, opts Options, logger zerolog.Logger) *Reader {
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.Fanout < 1 {
		opts.Fanout = 1
	}
	return &Reader{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "sol_reader").Logger(),
	}
}

func (r *Reader) Chain() models.Chain {
	return models.ChainSOL
}

// LatestSignature returns the newest signature of an address, empty when it
// has none. It seeds the cursor of a new registration.
func (r *Reader) LatestSignature(ctx context.Context, address string) (string, error) {
	page, err := r.source.RecentSignatures(ctx, address, 1)
	if err != nil {
		return "", fmt.Errorf("failed to get latest signature of %s: %w", address, err)
	}
	if len(page) == 0 {
		return "", nil
	}
	return page[0].Signature, nil
}

// Scan returns the activity of address newer than cursor.
//
// Newness is positional: everything in front of the cursor in a fresh page
// of recent signatures. When the cursor is not in the page every fetched
// signature counts as new; activity beyond one page since the last scan is
// not recovered. An empty cursor also yields the whole page, never more.
//
// A failed detail fetch fails the scan so the cursor stays where it was.
func (r *Reader) Scan(ctx context.Context, address, cursor string) (ScanResult, error) {
	result := ScanResult{Cursor: cursor}

	page, err := r.source.RecentSignatures(ctx, address, r.opts.PageSize)
	if err != nil {
		return result, fmt.Errorf("failed to get signatures of %s: %w", address, err)
	}
	if len(page) == 0 {
		return result, nil
	}

	fresh := page
	if cursor != "" {
		for i, sig := range page {
			if sig.Signature == cursor {
				fresh = page[:i]
				result.CursorFound = true
				break
			}
		}
		if !result.CursorFound {
			r.logger.Warn().
				Str("address", address).
				Str("cursor", cursor).
				Int("page_size", len(page)).
				Msg("Cursor not in recent page, treating whole page as new")
		}
	}
	result.NewCount = len(fresh)

	details := make([]*TxDetail, len(fresh))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Fanout)
	for i, sig := range fresh {
		if sig.Failed {
			continue
		}
		i, sig := i, sig
		g.Go(func() error {
			detail, err := r.source.Transaction(gctx, sig.Signature)
			if err != nil {
				return fmt.Errorf("failed to get transaction %s: %w", sig.Signature, err)
			}
			details[i] = detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	// Oldest first
	for i := len(details) - 1; i >= 0; i-- {
		detail := details[i]
		if detail == nil || detail.Failed {
			continue
		}
		if rec, ok := balanceDelta(detail, address); ok {
			result.Records = append(result.Records, rec)
		}
	}

	result.Cursor = page[0].Signature
	return result, nil
}

// RecentActivity returns the parsed most recent page of an address,
// oldest first. It keeps no state.
func (r *Reader) RecentActivity(ctx context.Context, address string) ([]models.ActivityRecord, error) {
	result, err := r.Scan(ctx, address, "")
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// balanceDelta derives the SOL movement of address from the balance
// snapshots. A zero delta is reported as an inbound zero-value record.
// Counterparts are the accounts whose balance moved the other way.
func balanceDelta(detail *TxDetail, address string) (models.ActivityRecord, bool) {
	idx := -1
	for i, key := range detail.AccountKeys {
		if key == address {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(detail.PreBalances) || idx >= len(detail.PostBalances) {
		return models.ActivityRecord{}, false
	}

	delta := lamportDelta(detail, idx)
	direction := models.DirectionIn
	if delta.IsNegative() {
		direction = models.DirectionOut
	}

	var counterparts []string
	for i, key := range detail.AccountKeys {
		if i == idx || i >= len(detail.PreBalances) || i >= len(detail.PostBalances) {
			continue
		}
		d := lamportDelta(detail, i)
		if (direction == models.DirectionOut && d.IsPositive()) || (direction == models.DirectionIn && d.IsNegative()) {
			counterparts = append(counterparts, key)
		}
	}

	return models.ActivityRecord{
		Hash:         detail.Signature,
		Timestamp:    detail.BlockTime,
		Direction:    direction,
		Address:      address,
		Counterparts: counterparts,
		Amount:       models.ToUnits(delta.Abs(), models.ChainSOL.Decimals()),
		Asset:        models.ChainSOL.Asset(),
	}, true
}

func lamportDelta(detail *TxDetail, i int) decimal.Decimal {
	pre := decimal.NewFromUint64(detail.PreBalances[i])
	post := decimal.NewFromUint64(detail.PostBalances[i])
	return post.Sub(pre)
}
