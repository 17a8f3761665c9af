// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer // import "go.opentelemetry.io/gpu-memtrace/analyzer"

import (
	"encoding/binary"
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/gpu-memtrace/kernel"
)

type weightKey struct {
	build  uint64
	region kernel.RegionID
}

func hashWeightKey(k weightKey) uint32 {
	var b [10]byte
	binary.LittleEndian.PutUint64(b[0:], k.build)
	binary.LittleEndian.PutUint16(b[8:], uint16(k.region))
	return uint32(xxh3.Hash(b[:]))
}

// WeightCache memoizes region record sizes. During measurement the weight of a region is
// requested for every region execution, the cache avoids re-analysing the region each time.
type WeightCache struct {
	cache *lru.SyncedLRU[weightKey, uint32]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewWeightCache creates a cache holding up to size region weights.
func NewWeightCache(size uint32) (*WeightCache, error) {
	cache, err := lru.NewSynced[weightKey, uint32](size, hashWeightKey)
	if err != nil {
		return nil, err
	}
	return &WeightCache{cache: cache}, nil
}

// RegionWeight returns the record size of the region, the measure of its trace weight.
// buildHash identifies the kernel build the region belongs to.
func (c *WeightCache) RegionWeight(model *kernel.GenModel, buildHash uint64,
	region *kernel.Region) uint32 {
	key := weightKey{build: buildHash, region: region.ID}
	if w, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return w
	}
	c.misses.Add(1)
	info := BuildRegion(model, region)
	c.cache.Add(key, info.RecordSize)
	return info.RecordSize
}

// Stats returns the number of cache hits and misses.
func (c *WeightCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
