package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"addrscan/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidHash         = errors.New("invalid transaction hash")
)

type Config struct {
	Chain string
	URL   string
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit float64
}

// Client resolves transactions against one chain's JSON-RPC endpoint.
type Client struct {
	chain   string
	rpc     *rpc.Client
	limiter *rate.Limiter
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := rpc.DialContext(dialCtx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", cfg.Chain, err)
	}
	c := &Client{chain: cfg.Chain, rpc: client}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

func (c *Client) Chain() string {
	return c.chain
}

// TransactionByHash fetches the transaction with eth_getTransactionByHash.
// A null result is reported as ErrTransactionNotFound.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error) {
	if err := ValidateHash(hash); err != nil {
		return domain.Transaction{}, err
	}
	ctx, span := otel.Tracer("addrscan/ethrpc").Start(ctx, "rpc.get_transaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain", c.chain),
		attribute.String("tx.hash", hash),
	)

	if err := c.wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Transaction{}, err
	}

	var result *rpcTransaction
	if err := c.rpc.CallContext(ctx, &result, "eth_getTransactionByHash", hash); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Transaction{}, fmt.Errorf("eth_getTransactionByHash %s: %w", hash, err)
	}
	if result == nil {
		span.SetStatus(codes.Error, ErrTransactionNotFound.Error())
		return domain.Transaction{}, ErrTransactionNotFound
	}
	return result.toDomain(), nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	var id hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return uint64(id), nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ValidateHash accepts 0x-prefixed 32-byte hex strings.
func ValidateHash(hash string) error {
	decoded, err := hexutil.Decode(hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidHash, len(decoded))
	}
	return nil
}

type rpcTransaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          *string         `json:"to"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

func (t *rpcTransaction) toDomain() domain.Transaction {
	tx := domain.Transaction{
		Hash: strings.ToLower(t.Hash),
		From: t.From,
	}
	if t.To != nil {
		tx.To = *t.To
	}
	if t.BlockNumber != nil {
		tx.BlockNumber = uint64(*t.BlockNumber)
	}
	return tx
}
