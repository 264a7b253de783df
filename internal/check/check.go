// Package check answers ad-hoc "what has this address been doing" queries.
// It reads through the same chain readers as the poller but keeps no cursor
// and records nothing in the ledger.
package check

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/risk"
)

// ErrChainDisabled is returned for a supported chain with no configured reader
var ErrChainDisabled = errors.New("chain is not enabled")

// ActivityReader is the stateless read used by checks
type ActivityReader interface {
	RecentActivity(ctx context.Context, address string) ([]models.ActivityRecord, error)
}

// Activity is the JSON shape of one activity record
type Activity struct {
	Hash         string           `json:"hash"`
	Timestamp    time.Time        `json:"timestamp"`
	Direction    models.Direction `json:"direction"`
	Amount       string           `json:"amount"`
	Asset        string           `json:"asset"`
	Counterparts []string         `json:"counterparts,omitempty"`
}

// Result is the answer to one check
type Result struct {
	Chain          models.Chain `json:"chain"`
	Address        string       `json:"address"`
	RecentActivity []Activity   `json:"recent_activity"`
	RiskScore      int          `json:"risk_score"`
	RiskLevel      risk.Level   `json:"risk_level"`
	Reasons        []string     `json:"reasons"`
	CheckedAt      time.Time    `json:"checked_at"`
}

type cachedResult struct {
	result    *Result
	fetchedAt time.Time
}

// Service runs checks. Results are cached per address for a short while so
// repeated lookups do not hit the upstream RPC.
type Service struct {
	readers map[models.Chain]ActivityReader
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mutex     sync.Mutex
	cache     map[string]cachedResult
	lastSweep time.Time
}

// New creates a check service. A zero ttl disables caching.
func New(readers map[models.Chain]ActivityReader, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		readers: readers,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "check").Logger(),
		cache:   make(map[string]cachedResult),
	}
}

// CheckAddress returns the recent activity of an address and its risk
// assessment
func (s *Service) CheckAddress(ctx context.Context, chainID, address string) (*Result, error) {
	chain, err := models.ParseChain(chainID)
	if err != nil {
		return nil, err
	}
	reader, ok := s.readers[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainDisabled, chain)
	}
	address, err = models.NormalizeAddress(chain, address)
	if err != nil {
		return nil, err
	}

	key := chain.String() + ":" + address
	now := s.now()

	s.mutex.Lock()
	cached, hit := s.cache[key]
	s.mutex.Unlock()
	if hit && now.Sub(cached.fetchedAt) < s.ttl {
		return cached.result, nil
	}

	records, err := reader.RecentActivity(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity of %s on %s: %w", address, chain, err)
	}

	assessment := risk.Score(records, now)
	result := &Result{
		Chain:          chain,
		Address:        address,
		RecentActivity: make([]Activity, 0, len(records)),
		RiskScore:      assessment.Score,
		RiskLevel:      assessment.Level,
		Reasons:        assessment.Reasons,
		CheckedAt:      now.UTC(),
	}
	for _, rec := range records {
		result.RecentActivity = append(result.RecentActivity, Activity{
			Hash:         rec.Hash,
			Timestamp:    rec.Timestamp.UTC(),
			Direction:    rec.Direction,
			Amount:       rec.Amount.String(),
			Asset:        rec.Asset,
			Counterparts: rec.Counterparts,
		})
	}

	if s.ttl > 0 {
		s.mutex.Lock()
		s.sweep(now)
		s.cache[key] = cachedResult{result: result, fetchedAt: now}
		s.mutex.Unlock()
	}

	s.logger.Debug().
		Str("chain", chain.String()).
		Str("address", address).
		Int("records", len(records)).
		Int("score", assessment.Score).
		Msg("Checked address")

	return result, nil
}

// sweep drops expired entries, at most once per ttl. Callers hold the mutex.
func (s *Service) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl {
		return
	}
	for key, entry := range s.cache {
		if now.Sub(entry.fetchedAt) >= s.ttl {
			delete(s.cache, key)
		}
	}
	s.lastSweep = now
}
