package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	sol "github.com/gagliardetto/solana-go"
)

// Chain identifies a supported blockchain
type Chain string

const (
	ChainETH     Chain = "eth"
	ChainBSC     Chain = "bsc"
	ChainPolygon Chain = "polygon"
	ChainSOL     Chain = "sol"
)

// Family groups chains by the shape of their data source
type Family string

const (
	// FamilyBlock chains are scanned block range by block range with one shared cursor
	FamilyBlock Family = "block"
	// FamilySignature chains are scanned per address from a signature history
	FamilySignature Family = "signature"
)

var (
	// ErrUnsupportedChain is returned for chain identifiers outside the catalogue
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrInvalidAddress is returned when an address is malformed for its chain
	ErrInvalidAddress = errors.New("invalid address")
)

// ChainInfo describes the native asset and scanning family of a chain
type ChainInfo struct {
	Chain      Chain
	Family     Family
	Asset      string
	Decimals   int32
	ExplorerTx string
}

var catalogue = map[Chain]ChainInfo{
	ChainETH:     {Chain: ChainETH, Family: FamilyBlock, Asset: "ETH", Decimals: 18, ExplorerTx: "https://etherscan.io/tx/"},
	ChainBSC:     {Chain: ChainBSC, Family: FamilyBlock, Asset: "BNB", Decimals: 18, ExplorerTx: "https://bscscan.com/tx/"},
	ChainPolygon: {Chain: ChainPolygon, Family: FamilyBlock, Asset: "POL", Decimals: 18, ExplorerTx: "https://polygonscan.com/tx/"},
	ChainSOL:     {Chain: ChainSOL, Family: FamilySignature, Asset: "SOL", Decimals: 9, ExplorerTx: "https://solscan.io/tx/"},
}

// AllChains returns the catalogue in a stable order
func AllChains() []Chain {
	return []Chain{ChainETH, ChainBSC, ChainPolygon, ChainSOL}
}

// ParseChain validates a chain identifier
func ParseChain(s string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalogue[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
	}
	return c, nil
}

// Info returns the catalogue entry for the chain
func (c Chain) Info() (ChainInfo, bool) {
	info, ok := catalogue[c]
	return info, ok
}

// Family returns the scanning family, empty for unknown chains
func (c Chain) Family() Family {
	return catalogue[c].Family
}

// Asset returns the native asset symbol
func (c Chain) Asset() string {
	return catalogue[c].Asset
}

// Decimals returns the number of decimals of the chain's smallest unit
func (c Chain) Decimals() int32 {
	return catalogue[c].Decimals
}

func (c Chain) String() string {
	return string(c)
}

// NormalizeAddress validates addr for the chain and returns its canonical form.
// EVM addresses are lowercased; base58 Solana keys are case sensitive and kept verbatim.
func NormalizeAddress(c Chain, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	switch c.Family() {
	case FamilyBlock:
		if !common.IsHexAddress(addr) || !strings.HasPrefix(strings.ToLower(addr), "0x") {
			return "", fmt.Errorf("%w: %q is not a hex address", ErrInvalidAddress, addr)
		}
		return strings.ToLower(addr), nil
	case FamilySignature:
		if _, err := sol.PublicKeyFromBase58(addr); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
		}
		return addr, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, c)
	}
}
