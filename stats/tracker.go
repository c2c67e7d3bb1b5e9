// Package stats provides methods and functionality to register, track, and
// report statistics that, for the most part, include "counter" and
// "histogram" kinds. The sink is injected into the core; it has no semantics
// relevant to simulation correctness.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"sort"
	"sync"

	"go.uber.org/atomic"
)

type (
	// NamedVal64 pairs a counter name with a delta, for batched updates.
	NamedVal64 struct {
		Name  string
		Value int64
	}

	// Tracker is the sink every counter increment and histogram sample is
	// published to.
	Tracker interface {
		Add(name string, val int64)
		AddMany(namedVal64 ...NamedVal64)
		// AddSample records one histogram observation.
		AddSample(name string, val int64)
	}
)

//
// CoreStats - the in-memory tracker
//

// CoreStats keeps counters as atomics so a reporter goroutine may read them
// while the simulator runs.
type CoreStats struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	samples  map[string][]int64
}

// interface guard
var _ Tracker = (*CoreStats)(nil)

func NewCoreStats() *CoreStats {
	return &CoreStats{
		counters: make(map[string]*atomic.Int64, 64),
		samples:  make(map[string][]int64, 8),
	}
}

func (s *CoreStats) counter(name string) *atomic.Int64 {
	s.mu.RLock()
	c, ok := s.counters[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	if c, ok = s.counters[name]; !ok {
		c = atomic.NewInt64(0)
		s.counters[name] = c
	}
	s.mu.Unlock()
	return c
}

func (s *CoreStats) Add(name string, val int64) { s.counter(name).Add(val) }

func (s *CoreStats) AddMany(nvs ...NamedVal64) {
	for _, nv := range nvs {
		s.counter(nv.Name).Add(nv.Value)
	}
}

func (s *CoreStats) AddSample(name string, val int64) {
	s.mu.Lock()
	s.samples[name] = append(s.samples[name], val)
	s.mu.Unlock()
}

// Get returns the current value of a counter (zero if never touched).
func (s *CoreStats) Get(name string) int64 {
	s.mu.RLock()
	c, ok := s.counters[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Samples returns a copy of the recorded observations for a histogram.
func (s *CoreStats) Samples(name string) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.samples[name]))
	copy(out, s.samples[name])
	return out
}

// Names returns the sorted counter names, for deterministic reporting.
func (s *CoreStats) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

//
// NopStats - discards everything; the default when no sink is injected
//

type NopStats struct{}

var _ Tracker = NopStats{}

func (NopStats) Add(string, int64)     {}
func (NopStats) AddMany(...NamedVal64) {}
func (NopStats) AddSample(string, int64) {}
