package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	knownHash   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	unknownHash = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newNode(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))

		var result any
		switch call.Method {
		case "eth_chainId":
			result = "0x38"
		case "eth_getTransactionByHash":
			var hash string
			require.NoError(t, json.Unmarshal(call.Params[0], &hash))
			if hash == knownHash {
				result = map[string]any{
					"hash":        knownHash,
					"from":        "0xAbCdEf0000000000000000000000000000000001",
					"to":          nil,
					"blockNumber": "0x10",
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  result,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_TransactionByHash(t *testing.T) {
	var calls atomic.Int64
	node := newNode(t, &calls)
	client, err := NewClient(context.Background(), Config{Chain: "bsc", URL: node.URL, RateLimit: 100})
	require.NoError(t, err)
	defer client.Close()

	tx, err := client.TransactionByHash(context.Background(), knownHash)
	require.NoError(t, err)
	assert.Equal(t, "0xAbCdEf0000000000000000000000000000000001", tx.From)
	assert.Equal(t, uint64(16), tx.BlockNumber)
	assert.Empty(t, tx.To)

	_, err = client.TransactionByHash(context.Background(), unknownHash)
	assert.True(t, errors.Is(err, ErrTransactionNotFound))
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_InvalidHashSkipsNode(t *testing.T) {
	var calls atomic.Int64
	node := newNode(t, &calls)
	client, err := NewClient(context.Background(), Config{Chain: "eth", URL: node.URL})
	require.NoError(t, err)
	defer client.Close()

	for _, hash := range []string{"", "0x1234", "not-hex", knownHash[2:]} {
		_, err := client.TransactionByHash(context.Background(), hash)
		assert.True(t, errors.Is(err, ErrInvalidHash), hash)
	}
	assert.Zero(t, calls.Load())
}

func TestClient_ChainID(t *testing.T) {
	var calls atomic.Int64
	node := newNode(t, &calls)
	client, err := NewClient(context.Background(), Config{Chain: "bsc", URL: node.URL})
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(56), id)
	assert.Equal(t, "bsc", client.Chain())
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Chain: "eth"})
	require.Error(t, err)
}
