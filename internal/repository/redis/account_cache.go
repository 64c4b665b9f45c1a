package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/client"
	"email-auth-service/internal/models"
	"email-auth-service/internal/util"
)

const accountEmailPrefix = "account:email:"

var ErrCacheMiss = errors.New("account not in cache")

// AccountCache is a read-through cache of account records keyed by
// normalized email. It is never authoritative: every account update
// deletes the cached entry, and entries carry a short TTL besides.
type AccountCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewAccountCache(redisClient *client.RedisClient, ttl time.Duration) *AccountCache {
	return &AccountCache{
		client: redisClient,
		ttl:    ttl,
	}
}

func (c *AccountCache) Get(ctx context.Context, email string) (*models.Account, error) {
	key := accountEmailPrefix + email

	payload, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrCacheMiss
		}
		util.Warn("Failed to read account from cache",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read account cache: %w", err)
	}

	account := &models.Account{}
	if err := json.Unmarshal([]byte(payload), account); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = c.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}

	return account, nil
}

func (c *AccountCache) Set(ctx context.Context, account *models.Account) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account for cache: %w", err)
	}

	key := accountEmailPrefix + account.Email
	if err := c.client.Set(ctx, key, payload, c.ttl); err != nil {
		util.Warn("Failed to cache account",
			zap.String("email", account.Email),
			zap.Error(err))
		return fmt.Errorf("failed to cache account: %w", err)
	}

	return nil
}

func (c *AccountCache) Invalidate(ctx context.Context, email string) error {
	if err := c.client.Del(ctx, accountEmailPrefix+email); err != nil {
		util.Warn("Failed to invalidate account cache",
			zap.String("email", email),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate account cache: %w", err)
	}
	return nil
}
