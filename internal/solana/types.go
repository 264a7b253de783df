package solana

import "time"

// Signature is one entry of an address history page
type Signature struct {
	Signature string
	Failed    bool
	BlockTime time.Time
}

// TxDetail is the part of a confirmed transaction the reader needs.
// Balances are indexed like AccountKeys, in lamports.
type TxDetail struct {
	Signature    string
	BlockTime    time.Time
	Failed       bool
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
}
