// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package cache implements the Metadata Cache: a keyed memory+disk store
with single-flight de-duplication and TTL expiry, fronting the registry
clients so concurrently requested keys never issue duplicate registry
calls.
*/
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is the default freshness window for listing-style entries
// (e.g. a package's list of versions). Exact (name, version) metadata
// uses TTLIndefinite instead.
const DefaultTTL = 24 * time.Hour

// TTLIndefinite marks an entry that never expires on its own; only
// Invalidate or ForceRefresh removes it.
const TTLIndefinite time.Duration = 0

// entry is a single cached value with its fetch time and the TTL it was
// stored under.
type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e entry) fresh(now time.Time) bool {
	if e.ttl == TTLIndefinite {
		return true
	}
	return now.Sub(e.fetchedAt) < e.ttl
}

// Loader fetches the value for a cache miss. It is invoked at most once
// per key across any number of concurrent callers.
type Loader func(ctx context.Context) (any, time.Duration, error)

// Cache is a single-flight, TTL-aware, optionally disk-backed metadata
// store. The zero value is not usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	diskDir string
	log     *logrus.Entry
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithDisk enables the disk tier, persisting values under dir using the
// same key-to-path sanitization rules the scheduler uses for artifact
// filenames.
func WithDisk(dir string) Option {
	return func(c *Cache) { c.diskDir = dir }
}

// WithLogger overrides the logger used for disk-tier degradation
// warnings.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Cache) { c.log = log }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value for key, invoking loader on a miss. Concurrent
// Get calls for the same key while a loader is in flight all receive the
// loader's single result; no duplicate loader invocation ever occurs.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (any, error) {
	return c.get(ctx, key, loader, false)
}

// GetForced behaves like Get but bypasses every cache layer, always
// invoking loader (still coalesced with any already in-flight loader for
// the same key).
func (c *Cache) GetForced(ctx context.Context, key string, loader Loader) (any, error) {
	return c.get(ctx, key, loader, true)
}

func (c *Cache) get(ctx context.Context, key string, loader Loader, forceRefresh bool) (any, error) {
	now := time.Now()

	if !forceRefresh {
		c.mu.RLock()
		if e, ok := c.entries[key]; ok && e.fresh(now) {
			c.mu.RUnlock()
			return e.value, nil
		}
		c.mu.RUnlock()

		if !forceRefresh {
			if v, ttl, ok := c.loadDisk(key); ok {
				c.mu.Lock()
				c.entries[key] = entry{value: v, fetchedAt: now, ttl: ttl}
				c.mu.Unlock()
				return v, nil
			}
		}
	}

	v, err := c.group.Do(key, func() (any, error) {
		val, ttl, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{value: val, fetchedAt: time.Now(), ttl: ttl}
		c.mu.Unlock()
		go c.storeDisk(key, val, ttl)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate synchronously removes every entry whose key starts with
// prefix.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear removes every entry from memory; the disk tier, if enabled, is
// left intact so a fresh process can still promote from it.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

type diskMeta struct {
	FetchedAtMs int64 `json:"fetchedAtMs"`
	TTLMs       int64 `json:"ttlMs"`
}

func (c *Cache) diskPaths(key string) (dataPath, metaPath string) {
	safe := SanitizeFilename(key)
	base := filepath.Join(c.diskDir, safe)
	return base + ".json", base + ".meta"
}

func (c *Cache) loadDisk(key string) (any, time.Duration, bool) {
	if c.diskDir == "" {
		return nil, 0, false
	}
	dataPath, metaPath := c.diskPaths(key)
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, 0, false
	}
	var m diskMeta
	if err := json.Unmarshal(metaBytes, &m); err != nil {
		c.log.WithError(err).Warn("cache: corrupt disk meta, ignoring")
		return nil, 0, false
	}
	ttl := time.Duration(m.TTLMs) * time.Millisecond
	fetchedAt := time.UnixMilli(m.FetchedAtMs)
	if ttl != TTLIndefinite && time.Since(fetchedAt) >= ttl {
		return nil, 0, false
	}
	dataBytes, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, 0, false
	}
	var v any
	if err := json.Unmarshal(dataBytes, &v); err != nil {
		c.log.WithError(err).Warn("cache: corrupt disk entry, ignoring")
		return nil, 0, false
	}
	return v, ttl, true
}

// storeDisk writes an entry to the disk tier asynchronously. Disk errors
// never propagate to callers; the cache degrades to memory-only and logs
// the failure.
func (c *Cache) storeDisk(key string, value any, ttl time.Duration) {
	if c.diskDir == "" {
		return
	}
	dataPath, metaPath := c.diskPaths(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		c.log.WithError(err).Warn("cache: disk tier degraded to memory-only")
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).Warn("cache: failed marshaling entry for disk tier")
		return
	}
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		c.log.WithError(err).Warn("cache: disk tier degraded to memory-only")
		return
	}
	meta, _ := json.Marshal(diskMeta{FetchedAtMs: time.Now().UnixMilli(), TTLMs: int64(ttl / time.Millisecond)})
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		c.log.WithError(err).Warn("cache: disk tier degraded to memory-only")
	}
}

var pypiNameFold = regexp.MustCompile(`[-_.]+`)

// NormalizePyPIName lowercases a PyPI project name and folds runs of
// -, _, . into a single -, per PEP 503.
func NormalizePyPIName(name string) string {
	return pypiNameFold.ReplaceAllString(strings.ToLower(name), "-")
}

// NormalizeNPMName lowercases an npm package name, preserving the leading
// @scope/ segment and its internal slash.
func NormalizeNPMName(name string) string {
	return strings.ToLower(name)
}
