// Package evm reads native-asset transfers from block-oriented chains.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnt/chainwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// Transfer is one transaction of a block, addresses lowercased.
// To is empty for contract creations.
type Transfer struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
}

// Block is the part of a block the reader needs
type Block struct {
	Height    uint64
	Timestamp time.Time
	Transfers []Transfer
}

// BlockSource is the upstream the reader scans
type BlockSource interface {
	HeadHeight(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, height uint64) (*Block, error)
}

// Options bounds the work of one scan
type Options struct {
	MaxBlocks     int    // blocks per Scan call
	Fanout        int    // concurrent block fetches
	Confirmations uint64 // blocks kept back from the head
}

// ScanResult is the outcome of one Scan call
type ScanResult struct {
	Records []models.ActivityRecord
	// Reached is the last height fetched without a gap; it is the only safe
	// next cursor. It equals the start height when the first block failed.
	Reached uint64
	Skipped []uint64
}

// Reader turns block ranges into activity records for a set of addresses
type Reader struct {
	chain  models.Chain
	source BlockSource
	opts   Options
	logger zerolog.Logger
}

func NewReader(chain models.Chain, source BlockSource, opts Options, logger zerolog.Logger) *Reader {
	if opts.MaxBlocks < 1 {
		opts.MaxBlocks = 50
	}
	if opts.Fanout < 1 {
		opts.Fanout = 1
	}
	return &Reader{
		chain:  chain,
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "evm_reader").Str("chain", chain.String()).Logger(),
	}
}

func (r *Reader) Chain() models.Chain {
	return r.chain
}

// Head returns the newest height considered final enough to scan
func (r *Reader) Head(ctx context.Context) (uint64, error) {
	head, err := r.source.HeadHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s head: %w", r.chain, err)
	}
	if head < r.opts.Confirmations {
		return 0, nil
	}
	return head - r.opts.Confirmations, nil
}

// Scan fetches blocks in (from, to], at most MaxBlocks of them, and returns
// the transfers touching addrs. Keys of addrs must be lowercase.
// Failed blocks are skipped; records past the first gap are withheld since
// the cursor cannot move past it and they will be read again.
func (r *Reader) Scan(ctx context.Context, from, to uint64, addrs map[string]struct{}) (ScanResult, error) {
	result := ScanResult{Reached: from}
	if to <= from {
		return result, nil
	}

	end := to
	if end-from > uint64(r.opts.MaxBlocks) {
		end = from + uint64(r.opts.MaxBlocks)
	}

	count := int(end - from)
	blocks := make([]*Block, count)
	failures := make([]error, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Fanout)
	for i := 0; i < count; i++ {
		i := i
		height := from + 1 + uint64(i)
		g.Go(func() error {
			block, err := r.source.BlockByNumber(gctx, height)
			if err != nil {
				failures[i] = err
				return nil
			}
			blocks[i] = block
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	contiguous := true
	for i, block := range blocks {
		height := from + 1 + uint64(i)
		if block == nil {
			r.logger.Warn().Err(failures[i]).Uint64("height", height).Msg("Skipping block after fetch failure")
			result.Skipped = append(result.Skipped, height)
			contiguous = false
			continue
		}
		if !contiguous {
			continue
		}
		result.Reached = height
		result.Records = append(result.Records, r.match(block, addrs)...)
	}

	r.logger.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Uint64("reached", result.Reached).
		Int("records", len(result.Records)).
		Int("skipped", len(result.Skipped)).
		Msg("Scanned block range")

	return result, nil
}

// match emits one record per monitored side of each transfer. A transfer
// between two monitored addresses yields an outbound and an inbound record.
func (r *Reader) match(block *Block, addrs map[string]struct{}) []models.ActivityRecord {
	var records []models.ActivityRecord
	for _, t := range block.Transfers {
		amount := decimal.Zero
		if t.Value != nil {
			amount = models.ToUnits(decimal.NewFromBigInt(t.Value, 0), r.chain.Decimals())
		}
		from := strings.ToLower(t.From)
		to := strings.ToLower(t.To)

		if _, ok := addrs[from]; ok {
			records = append(records, models.ActivityRecord{
				Hash:         t.Hash,
				Timestamp:    block.Timestamp,
				Direction:    models.DirectionOut,
				Address:      from,
				Counterparts: nonEmpty(to),
				Amount:       amount,
				Asset:        r.chain.Asset(),
			})
		}
		if _, ok := addrs[to]; ok && to != "" {
			records = append(records, models.ActivityRecord{
				Hash:         t.Hash,
				Timestamp:    block.Timestamp,
				Direction:    models.DirectionIn,
				Address:      to,
				Counterparts: nonEmpty(from),
				Amount:       amount,
				Asset:        r.chain.Asset(),
			})
		}
	}
	return records
}

// RecentActivity scans the newest window of blocks for one address, oldest
// record first. It keeps no state.
func (r *Reader) RecentActivity(ctx context.Context, address string) ([]models.ActivityRecord, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}

	var from uint64
	if head > uint64(r.opts.MaxBlocks) {
		from = head - uint64(r.opts.MaxBlocks)
	}

	result, err := r.Scan(ctx, from, head, map[string]struct{}{strings.ToLower(address): {}})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result.Records, func(i, j int) bool {
		return result.Records[i].Timestamp.Before(result.Records[j].Timestamp)
	})
	return result.Records, nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
