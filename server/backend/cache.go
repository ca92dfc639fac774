// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package backend

import (
	"context"
	"time"

	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/localcache"
	"github.com/croessner/syncauth/server/stats"
	"github.com/croessner/syncauth/server/util"
	"github.com/redis/go-redis/v9"
)

// NodeCache is a two tier cache for resolved node URLs: an in-process TTL
// cache and an optional shared Redis tier. Node assignments are immutable
// once written to the directory, so cached URLs never turn stale, the TTL
// only bounds memory.
type NodeCache struct {
	local      *localcache.Cache
	redisWrite redis.UniversalClient
	redisRead  redis.UniversalClient
	prefix     string
	ttl        time.Duration
}

// NewNodeCache creates a cache with the given entry lifetime. Both Redis
// handles may be nil; a nil read handle falls back to the write handle. A
// zero ttl disables caching entirely and every lookup misses.
func NewNodeCache(ttl time.Duration, redisWrite redis.UniversalClient, redisRead redis.UniversalClient, prefix string) *NodeCache {
	if ttl == 0 {
		return nil
	}

	if redisRead == nil {
		redisRead = redisWrite
	}

	return &NodeCache{
		local:      localcache.New(ttl),
		redisWrite: redisWrite,
		redisRead:  redisRead,
		prefix:     prefix,
		ttl:        ttl,
	}
}

func (c *NodeCache) redisKey(userID string) string {
	return c.prefix + "node:" + userID
}

// Get returns the cached node URL for a user id. A Redis hit refills the
// local tier.
func (c *NodeCache) Get(ctx context.Context, userID string) (string, bool) {
	if c == nil {
		return "", false
	}

	if nodeURL, found := c.local.Get(userID); found {
		stats.CacheHits.Inc()

		return nodeURL, true
	}

	if c.redisRead != nil {
		nodeURL, err := c.redisRead.Get(ctx, c.redisKey(userID)).Result()
		if err == nil && nodeURL != "" {
			c.local.Set(userID, nodeURL)

			stats.CacheHits.Inc()

			return nodeURL, true
		}
	}

	stats.CacheMisses.Inc()

	return "", false
}

// Set stores the node URL in both tiers. The Redis write is best-effort, a
// failing shared tier must not fail the lookup that produced the URL.
func (c *NodeCache) Set(ctx context.Context, userID string, nodeURL string) {
	if c == nil || nodeURL == "" {
		return
	}

	c.local.Set(userID, nodeURL)

	if c.redisWrite != nil {
		if err := c.redisWrite.Set(ctx, c.redisKey(userID), nodeURL, c.ttl).Err(); err != nil {
			util.DebugModule(definitions.DbgCache, definitions.LogKeyMsg, "Redis node cache write failed", definitions.LogKeyError, err)
		}
	}
}

// Delete removes a user's cached URL from both tiers.
func (c *NodeCache) Delete(ctx context.Context, userID string) {
	if c == nil {
		return
	}

	c.local.Delete(userID)

	if c.redisWrite != nil {
		if err := c.redisWrite.Del(ctx, c.redisKey(userID)).Err(); err != nil {
			util.DebugModule(definitions.DbgCache, definitions.LogKeyMsg, "Redis node cache delete failed", definitions.LogKeyError, err)
		}
	}
}
