// Package redis provides a Redis-backed BalanceStore for metergate.
//
// Each balance is a plain integer key. Debits and credits run as Lua
// scripts so the check and the write happen atomically on the server,
// which makes the store safe for multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/metergate"
)

// Store is a Redis-backed BalanceStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ metergate.BalanceStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "metergate:balance:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed BalanceStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "metergate:balance:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) balanceKey(userID string) string {
	return s.keyPrefix + userID
}

// debitScript decrements only when the balance covers the amount.
// KEYS[1] = balance key
// ARGV[1] = amount
//
// Returns {status, balance}:
//
//	 1 = debited, balance is the new value
//	 0 = insufficient, balance is unchanged
//	-1 = user not found
var debitScript = goredis.NewScript(`
local amount = tonumber(ARGV[1])
local current = redis.call("GET", KEYS[1])
if not current then
    return {-1, 0}
end
current = tonumber(current)
if current < amount then
    return {0, current}
end
return {1, redis.call("DECRBY", KEYS[1], amount)}
`)

// creditScript clamps a negative balance to 0, then increments.
// KEYS[1] = balance key
// ARGV[1] = amount
var creditScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current < 0 then
    redis.call("SET", KEYS[1], "0")
end
return redis.call("INCRBY", KEYS[1], tonumber(ARGV[1]))
`)

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	v, err := s.client.Get(ctx, s.balanceKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, metergate.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("metergate/redis: balance: %w", err)
	}
	return v, nil
}

func (s *Store) DebitIfSufficient(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	res, err := debitScript.Run(ctx, s.client, []string{s.balanceKey(userID)}, amount).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("metergate/redis: debit: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("metergate/redis: unexpected debit result: %v", res)
	}

	switch res[0] {
	case 1:
		return res[1], true, nil
	case 0, -1:
		return res[1], false, nil
	default:
		return 0, false, fmt.Errorf("metergate/redis: unexpected debit status: %d", res[0])
	}
}

// Credit adds amount, creating the balance if needed.
func (s *Store) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	v, err := creditScript.Run(ctx, s.client, []string{s.balanceKey(userID)}, amount).Int64()
	if err != nil {
		return 0, fmt.Errorf("metergate/redis: credit: %w", err)
	}
	return v, nil
}

// SetBalance overwrites a user's balance. Intended for migrations and tests.
func (s *Store) SetBalance(ctx context.Context, userID string, balance int64) error {
	if err := s.client.Set(ctx, s.balanceKey(userID), balance, 0).Err(); err != nil {
		return fmt.Errorf("metergate/redis: set balance: %w", err)
	}
	return nil
}
