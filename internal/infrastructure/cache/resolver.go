package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"addrscan/internal/application"
	"addrscan/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	senderKeyPrefix = "addrscan:sender:"
	defaultCacheTTL = 24 * time.Hour
)

// Config selects the Redis server. Entry lifetime is set per resolver.
type Config struct {
	Addr string
}

// NewClient connects to Redis. An empty address disables caching and returns
// a nil client.
func NewClient(cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// CachedResolver remembers resolved transactions per chain. Failed lookups
// are never cached.
type CachedResolver struct {
	next  application.TransactionResolver
	cache *redis.Client
	chain string
	ttl   time.Duration
}

func NewCachedResolver(next application.TransactionResolver, client *redis.Client, chain string, ttl time.Duration) (*CachedResolver, error) {
	if next == nil {
		return nil, errors.New("base resolver is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedResolver{next: next, cache: client, chain: chain, ttl: ttl}, nil
}

func (r *CachedResolver) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error) {
	if r.cache == nil {
		return r.next.TransactionByHash(ctx, hash)
	}
	key := senderKey(r.chain, hash)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var tx domain.Transaction
		if err := json.Unmarshal([]byte(cached), &tx); err == nil {
			return tx, nil
		}
	}

	tx, err := r.next.TransactionByHash(ctx, hash)
	if err != nil {
		return domain.Transaction{}, err
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return tx, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return tx, nil
}

func senderKey(chain, hash string) string {
	return senderKeyPrefix + chain + ":" + strings.ToLower(hash)
}
