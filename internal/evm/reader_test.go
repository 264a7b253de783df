package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/chainwatch/internal/models"
)

const (
	watched = "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136"
	other   = "0x1111111111111111111111111111111111111111"
)

// fakeSource serves blocks from memory; heights in failing return an error
type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	blocks  map[uint64]*Block
	failing map[uint64]bool
	fetched []uint64
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{head: head, blocks: map[uint64]*Block{}, failing: map[uint64]bool{}}
}

func (f *fakeSource) HeadHeight(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) BlockByNumber(ctx context.Context, height uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, height)
	if f.failing[height] {
		return nil, errors.New("upstream timeout")
	}
	if b, ok := f.blocks[height]; ok {
		return b, nil
	}
	return &Block{Height: height, Timestamp: time.Unix(int64(1700000000+height*12), 0).UTC()}, nil
}

func (f *fakeSource) add(height uint64, transfers ...Transfer) {
	f.blocks[height] = &Block{
		Height:    height,
		Timestamp: time.Unix(int64(1700000000+height*12), 0).UTC(),
		Transfers: transfers,
	}
}

func wei(eth string) *big.Int {
	return decimal.RequireFromString(eth).Shift(18).BigInt()
}

func addrSet(addrs ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

func TestScan_MatchesBothDirections(t *testing.T) {
	src := newFakeSource(105)
	src.add(103,
		Transfer{Hash: "0xaa", From: "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136", To: other, Value: wei("0.05")},
		Transfer{Hash: "0xbb", From: other, To: watched, Value: wei("1.123456789")},
		Transfer{Hash: "0xcc", From: other, To: other, Value: wei("3")},
	)
	r := NewReader(models.ChainETH, src, Options{MaxBlocks: 50, Fanout: 4}, zerolog.Nop())

	result, err := r.Scan(context.Background(), 100, 105, addrSet(watched))
	require.NoError(t, err)

	assert.Equal(t, uint64(105), result.Reached)
	assert.Empty(t, result.Skipped)
	require.Len(t, result.Records, 2)

	out := result.Records[0]
	assert.Equal(t, "0xaa", out.Hash)
	assert.Equal(t, models.DirectionOut, out.Direction)
	assert.Equal(t, watched, out.Address)
	assert.Equal(t, other, out.Counterpart())
	assert.Equal(t, "0.05", out.Amount.String())
	assert.Equal(t, "ETH", out.Asset)

	in := result.Records[1]
	assert.Equal(t, models.DirectionIn, in.Direction)
	// Rounded to 8 places
	assert.Equal(t, "1.12345679", in.Amount.String())
}

func TestScan_CapsWindow(t *testing.T) {
	src := newFakeSource(1000)
	r := NewReader(models.ChainBSC, src, Options{MaxBlocks: 10, Fanout: 3}, zerolog.Nop())

	result, err := r.Scan(context.Background(), 100, 1000, addrSet(watched))
	require.NoError(t, err)
	assert.Equal(t, uint64(110), result.Reached)
	assert.Len(t, src.fetched, 10)
}

func TestScan_StopsCursorAtFirstGap(t *testing.T) {
	src := newFakeSource(110)
	src.failing[104] = true
	src.add(103, Transfer{Hash: "0x01", From: other, To: watched, Value: wei("1")})
	src.add(106, Transfer{Hash: "0x02", From: other, To: watched, Value: wei("1")})
	r := NewReader(models.ChainETH, src, Options{MaxBlocks: 50, Fanout: 2}, zerolog.Nop())

	result, err := r.Scan(context.Background(), 100, 110, addrSet(watched))
	require.NoError(t, err)

	assert.Equal(t, uint64(103), result.Reached)
	assert.Equal(t, []uint64{104}, result.Skipped)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "0x01", result.Records[0].Hash)
}

func TestScan_FirstBlockFails(t *testing.T) {
	src := newFakeSource(105)
	src.failing[101] = true
	r := NewReader(models.ChainETH, src, Options{MaxBlocks: 50, Fanout: 2}, zerolog.Nop())

	result, err := r.Scan(context.Background(), 100, 105, addrSet(watched))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.Reached)
}

func TestScan_EmptyRange(t *testing.T) {
	r := NewReader(models.ChainETH, newFakeSource(100), Options{}, zerolog.Nop())
	result, err := r.Scan(context.Background(), 100, 100, addrSet(watched))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.Reached)
	assert.Empty(t, result.Records)
}

func TestHead_Confirmations(t *testing.T) {
	r := NewReader(models.ChainETH, newFakeSource(105), Options{Confirmations: 3}, zerolog.Nop())
	head, err := r.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(102), head)

	r = NewReader(models.ChainETH, newFakeSource(2), Options{Confirmations: 3}, zerolog.Nop())
	head, err = r.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)
}

func TestRecentActivity(t *testing.T) {
	src := newFakeSource(200)
	src.add(195, Transfer{Hash: "0x02", From: watched, To: other, Value: wei("2")})
	src.add(191, Transfer{Hash: "0x01", From: other, To: watched, Value: wei("1")})
	src.add(120, Transfer{Hash: "0x00", From: other, To: watched, Value: wei("1")})
	r := NewReader(models.ChainPolygon, src, Options{MaxBlocks: 20, Fanout: 5}, zerolog.Nop())

	records, err := r.RecentActivity(context.Background(), "0x0B8FA6F76EB75AE3A4CA28EB3020DFC4503F2136")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0x01", records[0].Hash)
	assert.Equal(t, "0x02", records[1].Hash)
	assert.Equal(t, "POL", records[1].Asset)
}
