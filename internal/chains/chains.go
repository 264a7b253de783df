// Package chains dials the configured upstreams and builds one reader per
// enabled chain.
package chains

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/check"
	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/evm"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/rpc"
	"github.com/wnt/chainwatch/internal/solana"
)

// Set holds the readers of the enabled chains
type Set struct {
	Block     map[models.Chain]*evm.Reader
	Signature map[models.Chain]*solana.Reader
	Pools     []interface{ Stats() rpc.Stats }
}

// Open dials every chain with endpoints in cfg. only restricts the set to
// the given chains when non-empty.
func Open(cfg config.Config, logger zerolog.Logger, only ...models.Chain) (*Set, error) {
	wanted := make(map[models.Chain]bool, len(only))
	for _, c := range only {
		wanted[c] = true
	}

	set := &Set{
		Block:     make(map[models.Chain]*evm.Reader),
		Signature: make(map[models.Chain]*solana.Reader),
	}
	opts := rpc.Options{RateLimit: cfg.RPCRateLimit, Timeout: cfg.RPCTimeout}

	for _, chain := range models.AllChains() {
		urls := cfg.RPCEndpoints[chain.String()]
		if len(urls) == 0 || (len(wanted) > 0 && !wanted[chain]) {
			continue
		}

		switch chain.Family() {
		case models.FamilyBlock:
			client, err := evm.Dial(chain.String(), urls, opts, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to dial %s: %w", chain, err)
			}
			set.Block[chain] = evm.NewReader(chain, client, evm.Options{
				MaxBlocks:     cfg.MaxBlocksPerScan,
				Fanout:        cfg.MaxFanout,
				Confirmations: cfg.EVMConfirmations,
			}, logger)
			set.Pools = append(set.Pools, client)
		case models.FamilySignature:
			client, err := solana.Dial(urls, opts, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to dial %s: %w", chain, err)
			}
			set.Signature[chain] = solana.NewReader(client, solana.Options{
				PageSize: cfg.SignaturePageSize,
				Fanout:   cfg.MaxFanout,
			}, logger)
			set.Pools = append(set.Pools, client)
		}

		logger.Info().Str("chain", chain.String()).Int("endpoints", len(urls)).Msg("Chain enabled")
	}

	return set, nil
}

// ActivityReaders returns every reader as a check source
func (s *Set) ActivityReaders() map[models.Chain]check.ActivityReader {
	readers := make(map[models.Chain]check.ActivityReader, len(s.Block)+len(s.Signature))
	for chain, r := range s.Block {
		readers[chain] = r
	}
	for chain, r := range s.Signature {
		readers[chain] = r
	}
	return readers
}
