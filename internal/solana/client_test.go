package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/chainwatch/internal/rpc"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// signedTransfer builds a signed SOL transfer and returns it base64 encoded
func signedTransfer(t *testing.T, from sol.PrivateKey, to sol.PublicKey, lamports uint64) (string, string) {
	t.Helper()
	tx, err := sol.NewTransaction(
		[]sol.Instruction{system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()},
		sol.Hash{},
		sol.TransactionPayer(from.PublicKey()),
	)
	require.NoError(t, err)

	_, err = tx.Sign(func(key sol.PublicKey) *sol.PrivateKey {
		if key.Equals(from.PublicKey()) {
			return &from
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return tx.Signatures[0].String(), base64.StdEncoding.EncodeToString(raw)
}

func TestClient(t *testing.T) {
	sender, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)
	receiver, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)

	signature, encoded := signedTransfer(t, sender, receiver.PublicKey(), 2_000_000_000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result interface{}
		switch req.Method {
		case "getSignaturesForAddress":
			result = []map[string]interface{}{
				{"signature": signature, "slot": 10, "err": nil, "blockTime": 1700000000, "confirmationStatus": "confirmed"},
				{"signature": sol.Signature{}.String(), "slot": 9, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}, "blockTime": 1699999990},
			}
		case "getTransaction":
			result = map[string]interface{}{
				"slot":        10,
				"blockTime":   1700000000,
				"transaction": []string{encoded, "base64"},
				"meta": map[string]interface{}{
					"err":          nil,
					"fee":          5000,
					"preBalances":  []uint64{3_000_000_000, 0, 1},
					"postBalances": []uint64{999_995_000, 2_000_000_000, 1},
					"loadedAddresses": map[string]interface{}{
						"writable": []string{},
						"readonly": []string{},
					},
				},
			}
		default:
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	defer server.Close()

	client, err := Dial([]string{server.URL}, rpc.Options{RateLimit: 100, Burst: 100}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	sigs, err := client.RecentSignatures(ctx, receiver.PublicKey().String(), 10)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, signature, sigs[0].Signature)
	assert.False(t, sigs[0].Failed)
	assert.True(t, sigs[1].Failed)
	assert.Equal(t, int64(1700000000), sigs[0].BlockTime.Unix())

	detail, err := client.Transaction(ctx, signature)
	require.NoError(t, err)
	assert.False(t, detail.Failed)
	require.Len(t, detail.AccountKeys, 3)
	assert.Equal(t, sender.PublicKey().String(), detail.AccountKeys[0])
	assert.Equal(t, receiver.PublicKey().String(), detail.AccountKeys[1])

	// End to end through the reader
	reader := NewReader(client, Options{PageSize: 10}, zerolog.Nop())
	result, err := reader.Scan(ctx, receiver.PublicKey().String(), "")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "2", result.Records[0].Amount.String())
	assert.Equal(t, []string{sender.PublicKey().String()}, result.Records[0].Counterparts)
	assert.Equal(t, signature, result.Cursor)

	assert.Equal(t, 1, client.Stats().HealthyEndpoints)
}
