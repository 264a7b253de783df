package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/rpc"
)

// Client is a BlockSource over a pool of JSON-RPC endpoints
type Client struct {
	pool   *rpc.Pool[*ethclient.Client]
	logger zerolog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to every endpoint of a chain
func Dial(chain string, urls []string, opts rpc.Options, logger zerolog.Logger) (*Client, error) {
	opts.IsBenign = func(err error) bool {
		return errors.Is(err, ethereum.NotFound)
	}
	pool, err := rpc.NewPool(chain, urls, func(url string) (*ethclient.Client, error) {
		return ethclient.Dial(url)
	}, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: logger.With().Str("component", "evm_client").Str("chain", chain).Logger(),
	}, nil
}

// Stats exposes endpoint health
func (c *Client) Stats() rpc.Stats {
	return c.pool.Stats()
}

func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.pool.Do(ctx, "eth_blockNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		head, err = client.BlockNumber(ctx)
		return err
	})
	return head, err
}

func (c *Client) BlockByNumber(ctx context.Context, height uint64) (*Block, error) {
	signer, err := c.signer(ctx)
	if err != nil {
		return nil, err
	}

	var block *types.Block
	err = c.pool.Do(ctx, "eth_getBlockByNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		block, err = client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}

	return convertBlock(block, signer, c.logger), nil
}

// signer is built once from the chain id of the first endpoint that answers
func (c *Client) signer(ctx context.Context) (types.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID == nil {
		err := c.pool.Do(ctx, "eth_chainId", func(ctx context.Context, client *ethclient.Client) error {
			id, err := client.ChainID(ctx)
			if err != nil {
				return err
			}
			c.chainID = id
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}
	return types.LatestSignerForChainID(c.chainID), nil
}

// convertBlock extracts sender, recipient and value of every transaction.
// Transactions whose sender cannot be recovered, such as system transactions
// of some L2s, are skipped.
func convertBlock(block *types.Block, signer types.Signer, logger zerolog.Logger) *Block {
	out := &Block{
		Height:    block.NumberU64(),
		Timestamp: time.Unix(int64(block.Time()), 0).UTC(),
		Transfers: make([]Transfer, 0, len(block.Transactions())),
	}

	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			logger.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("Skipping transaction without recoverable sender")
			continue
		}

		transfer := Transfer{
			Hash:  tx.Hash().Hex(),
			From:  strings.ToLower(from.Hex()),
			Value: tx.Value(),
		}
		if to := tx.To(); to != nil {
			transfer.To = strings.ToLower(to.Hex())
		}
		out.Transfers = append(out.Transfers, transfer)
	}
	return out
}
