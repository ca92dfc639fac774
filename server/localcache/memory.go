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

// Package localcache wraps an in-process TTL cache for resolved string
// values, primarily user to node URL mappings.
package localcache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache is a typed facade over a go-cache store.
type Cache struct {
	store *cache.Cache
}

// New creates a cache whose entries expire after ttl. The janitor runs at
// twice the ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{store: cache.New(ttl, 2*ttl)}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}

	value, found := c.store.Get(key)
	if !found {
		return "", false
	}

	stringValue, ok := value.(string)
	if !ok {
		return "", false
	}

	return stringValue, true
}

// Set stores value under key with the default expiration.
func (c *Cache) Set(key string, value string) {
	if c == nil {
		return
	}

	c.store.SetDefault(key, value)
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	if c == nil {
		return
	}

	c.store.Delete(key)
}

// Flush removes every entry.
func (c *Cache) Flush() {
	if c == nil {
		return
	}

	c.store.Flush()
}
