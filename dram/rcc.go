// Package dram models a single memory channel cycle-accurately.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dramcore/dramsim/cmn"
	"github.com/dramcore/dramsim/stats"
)

// RCC read/write results.
const (
	rccHit       = int64(0)
	rccCleanMiss = int64(-1)
	// anything else is the hex address of a dirty victim that must be
	// written back before the fill is usable
)

// RowCounterCache is Hydra's set-associative, write-back cache of per-row
// counters. A dirty eviction surfaces the victim's address so the channel can
// schedule both the fill reads and the writeback.
type RowCounterCache struct {
	statsT stats.Tracker
	sets   []*lru.LRU[uint64, bool] // tag -> dirty
	ways   int

	// capture slot for the eviction callback of the set being accessed
	victimTag   uint64
	victimDirty bool
	hasVictim   bool
}

func NewRowCounterCache(numSets, ways int, statsT stats.Tracker) *RowCounterCache {
	cmn.Assert(numSets > 0 && ways > 0)
	c := &RowCounterCache{statsT: statsT, ways: ways}
	c.sets = make([]*lru.LRU[uint64, bool], numSets)
	for i := range c.sets {
		set, err := lru.NewLRU[uint64, bool](ways, c.onEvict)
		cmn.AssertNoErr(err)
		c.sets[i] = set
	}
	return c
}

func (c *RowCounterCache) onEvict(tag uint64, dirty bool) {
	c.victimTag = tag
	c.victimDirty = dirty
	c.hasVictim = true
}

func (c *RowCounterCache) setFor(set uint64) *lru.LRU[uint64, bool] {
	return c.sets[set%uint64(len(c.sets))]
}

// Read looks the tag up; on a miss the line is filled clean. Returns rccHit,
// rccCleanMiss, or the dirty victim's address.
func (c *RowCounterCache) Read(tag, set uint64) int64 {
	c.statsT.Add("hydra_rcc.reads", 1)
	s := c.setFor(set)
	if _, ok := s.Get(tag); ok {
		c.statsT.Add("hydra_rcc.hits", 1)
		return rccHit
	}
	c.statsT.Add("hydra_rcc.misses", 1)
	return c.fill(s, tag, false)
}

// Write behaves like Read but marks the line dirty.
func (c *RowCounterCache) Write(tag, set uint64) int64 {
	c.statsT.Add("hydra_rcc.writes", 1)
	s := c.setFor(set)
	if _, ok := s.Get(tag); ok {
		s.Add(tag, true) // refresh recency, set dirty
		return rccHit
	}
	return c.fill(s, tag, true)
}

func (c *RowCounterCache) fill(s *lru.LRU[uint64, bool], tag uint64, dirty bool) int64 {
	c.hasVictim = false
	s.Add(tag, dirty)
	if c.hasVictim && c.victimDirty {
		c.statsT.Add("hydra_rcc.writebacks", 1)
		return int64(c.victimTag)
	}
	return rccCleanMiss
}
