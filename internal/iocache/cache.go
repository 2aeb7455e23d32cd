// Package iocache implements the Cache (C12): a thin Redis-backed memoizer
// for taxonomy lookups, trees, and chunks, invalidated by prefix on writes
// (spec §4.13).
package iocache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldnote/dex/pkg/errcode"
)

// TTLs for the key schemas named in spec §4.13.
const (
	TaxonomyTTL        = time.Hour
	TreeTTL            = 2 * time.Minute
	TreeGlobalTTL      = 5 * time.Minute
	DexUserTTL         = 5 * time.Minute
	DexFriendsOverview = 2 * time.Minute
)

// Cache wraps a redis.Client with the Get/Set/Delete/DeletePrefix surface
// the rest of the pipeline needs.
type Cache struct {
	rdb *redis.Client
}

// New constructs a Cache from a redis.Client (dial/auth handled by the
// caller, consistent with the config-driven wiring of pkg/db).
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Get fetches key and unmarshals it into dest. Returns (false, nil) on a
// cache miss; any other redis error is wrapped as Internal.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errcode.Internal("cache get failed", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errcode.Internal("cache value corrupt", err)
	}
	return true, nil
}

// Set marshals value as JSON and stores it under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errcode.Internal("cache value not serializable", err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return errcode.Internal("cache set failed", err)
	}
	return nil
}

// Ping checks the Redis connection, used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errcode.Internal("cache unreachable", err)
	}
	return nil
}

// Delete removes a single key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return errcode.Internal("cache delete failed", err)
	}
	return nil
}

// DeletePrefix scans and deletes every key starting with prefix, used by
// the Observation Recorder (C8) to invalidate the owner's and each scoped
// friend's tree caches on write (spec §4.13 Invalidation).
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return errcode.Internal("cache scan failed", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return errcode.Internal("cache prefix delete failed", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Key schema constructors (spec §4.13).

func TaxonomyKey(normalizedName, sourceScope string) string {
	if sourceScope == "" {
		sourceScope = "all"
	}
	return "taxonomy:" + normalizedName + ":" + sourceScope
}

func TreeKey(mode, viewerID string) string {
	return "tree:" + mode + ":" + viewerID
}

func TreeSelectedKey(sortedUserIDs []string) string {
	return "tree:selected:" + strings.Join(sortedUserIDs, ",")
}

func TreeGlobalKey() string { return "tree:global" }

func TreeChunkKey(treeKey string, x, y int) string {
	return treeKey + ":chunk:" + strconv.Itoa(x) + ":" + strconv.Itoa(y)
}

func DexUserKey(userID string) string { return "dex:user:" + userID + ":all" }

func DexFriendsOverviewKey(userID string) string { return "dex:friends_overview:" + userID }
