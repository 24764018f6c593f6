package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/barterline/swapd/internal/domain"
)

const defaultProductTTL = 5 * time.Minute

// ProductCache implements domain.ProductCache with JSON-serialized products.
// Lookups on the platform backend are scoped by (productID, profileID), so
// the cache key carries both.
//
// Key schema:
//
//	product:{id}:{profileID} - JSON-encoded product, short TTL
type ProductCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProductCache creates a ProductCache backed by the given Client. ttl <= 0
// falls back to the 5-minute default.
func NewProductCache(c *Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	return &ProductCache{rdb: c.Underlying(), ttl: ttl}
}

func productKey(productID, profileID string) string {
	return "product:" + productID + ":" + profileID
}

// Set stores a product under its (id, profile) key.
func (pc *ProductCache) Set(ctx context.Context, profileID string, product domain.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("redis: marshal product %s: %w", product.ID, err)
	}
	key := productKey(product.ID, profileID)
	if err := pc.rdb.Set(ctx, key, data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set product %s: %w", product.ID, err)
	}
	return nil
}

// Get returns a cached product or domain.ErrNotFound on a miss.
func (pc *ProductCache) Get(ctx context.Context, productID, profileID string) (domain.Product, error) {
	data, err := pc.rdb.Get(ctx, productKey(productID, profileID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("redis: get product %s: %w", productID, err)
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Product{}, fmt.Errorf("redis: unmarshal product %s: %w", productID, err)
	}
	return p, nil
}

// Invalidate removes a product from the cache.
func (pc *ProductCache) Invalidate(ctx context.Context, productID, profileID string) error {
	if err := pc.rdb.Del(ctx, productKey(productID, profileID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate product %s: %w", productID, err)
	}
	return nil
}

var _ domain.ProductCache = (*ProductCache)(nil)
