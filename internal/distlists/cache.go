package distlists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "incident-relay:distlists:"

// CachedRepository is a read-through redis cache in front of a Repository.
// Cache failures fall back to the underlying repository.
type CachedRepository struct {
	next   Repository
	client *redis.Client
	ttl    time.Duration
}

// NewCachedRepository wraps next with a redis cache.
func NewCachedRepository(next Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRepository{next: next, client: client, ttl: ttl}
}

// ListActive returns active lists matching filter.
func (c *CachedRepository) ListActive(ctx context.Context, filter Filter) ([]domain.DistributionList, error) {
	rawFilter, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	key := cacheKeyPrefix + "active:" + string(rawFilter)

	var lists []domain.DistributionList
	if c.get(ctx, key, &lists) {
		return lists, nil
	}

	lists, err = c.next.ListActive(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, lists)
	return lists, nil
}

// GetValidatorList returns the active validator list.
func (c *CachedRepository) GetValidatorList(ctx context.Context) (*domain.DistributionList, error) {
	key := cacheKeyPrefix + "validator"

	var list *domain.DistributionList
	if c.get(ctx, key, &list) {
		return list, nil
	}

	list, err := c.next.GetValidatorList(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, list)
	return list, nil
}

// GetList returns a list by ID.
func (c *CachedRepository) GetList(ctx context.Context, id string) (*domain.DistributionList, error) {
	key := cacheKeyPrefix + "id:" + id

	var list *domain.DistributionList
	if c.get(ctx, key, &list) && list != nil {
		return list, nil
	}

	list, err := c.next.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, list)
	return list, nil
}

// Invalidate drops every cached entry.
func (c *CachedRepository) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

func (c *CachedRepository) get(ctx context.Context, key string, dest any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("distribution list cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("distribution list cache entry corrupted", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedRepository) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("failed to encode distribution list cache entry", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("distribution list cache write failed", "key", key, "error", err)
	}
}
