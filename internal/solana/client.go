package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/rpc"
)

// Client is a SignatureSource over a pool of Solana JSON-RPC endpoints
type Client struct {
	pool *rpc.Pool[*solrpc.Client]
}

// Dial creates a client per endpoint. solana-go connects lazily, so no
// request is made here.
func Dial(urls []string, opts rpc.Options, logger zerolog.Logger) (*Client, error) {
	opts.IsBenign = func(err error) bool {
		return errors.Is(err, solrpc.ErrNotFound)
	}
	pool, err := rpc.NewPool("sol", urls, func(url string) (*solrpc.Client, error) {
		return solrpc.New(url), nil
	}, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool}, nil
}

// Stats exposes endpoint health
func (c *Client) Stats() rpc.Stats {
	return c.pool.Stats()
}

func (c *Client) RecentSignatures(ctx context.Context, address string, limit int) ([]Signature, error) {
	pubkey, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}

	var out []*solrpc.TransactionSignature
	err = c.pool.Do(ctx, "getSignaturesForAddress", func(ctx context.Context, client *solrpc.Client) error {
		var err error
		out, err = client.GetSignaturesForAddressWithOpts(ctx, pubkey, &solrpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: solrpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	signatures := make([]Signature, 0, len(out))
	for _, s := range out {
		sig := Signature{
			Signature: s.Signature.String(),
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			sig.BlockTime = s.BlockTime.Time().UTC()
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}

func (c *Client) Transaction(ctx context.Context, signature string) (*TxDetail, error) {
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s: %w", signature, err)
	}

	maxVersion := uint64(0)
	var out *solrpc.GetTransactionResult
	err = c.pool.Do(ctx, "getTransaction", func(ctx context.Context, client *solrpc.Client) error {
		var err error
		out, err = client.GetTransaction(ctx, sig, &solrpc.GetTransactionOpts{
			Encoding:                       sol.EncodingBase64,
			Commitment:                     solrpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertTransaction(signature, out)
}

// convertTransaction flattens the account keys in balance order: static
// keys, then writable and read-only keys loaded from lookup tables.
func convertTransaction(signature string, out *solrpc.GetTransactionResult) (*TxDetail, error) {
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return nil, fmt.Errorf("transaction %s has no meta", signature)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}

	keys := make([]string, 0, len(tx.Message.AccountKeys)+len(out.Meta.LoadedAddresses.Writable)+len(out.Meta.LoadedAddresses.ReadOnly))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.String())
	}
	for _, k := range out.Meta.LoadedAddresses.Writable {
		keys = append(keys, k.String())
	}
	for _, k := range out.Meta.LoadedAddresses.ReadOnly {
		keys = append(keys, k.String())
	}

	detail := &TxDetail{
		Signature:    signature,
		Failed:       out.Meta.Err != nil,
		AccountKeys:  keys,
		PreBalances:  out.Meta.PreBalances,
		PostBalances: out.Meta.PostBalances,
	}
	if out.BlockTime != nil {
		detail.BlockTime = out.BlockTime.Time().UTC()
	} else {
		detail.BlockTime = time.Now().UTC()
	}
	return detail, nil
}
