// Package stats provides methods and functionality to register, track, and
// report statistics.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromStats exports the simulator's counters and histograms through a
// Prometheus registry. Counter names use dots as hierarchy separators
// (e.g. "acts.0.1.3"); Prometheus forbids dots, so names are sanitized and
// the bank identifier becomes a label.
type PromStats struct {
	reg       prometheus.Registerer
	namespace string

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	hists    map[string]prometheus.Histogram
}

// interface guard
var _ Tracker = (*PromStats)(nil)

func NewPromStats(reg prometheus.Registerer, namespace string) *PromStats {
	return &PromStats{
		reg:       reg,
		namespace: namespace,
		counters:  make(map[string]prometheus.Counter, 64),
		hists:     make(map[string]prometheus.Histogram, 8),
	}
}

// sanitizeName splits "kind.rank.bg.bank" into a metric name and a bank label.
func sanitizeName(name string) (metric, bank string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

func (p *PromStats) getCounter(name string) prometheus.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	metric, bank := sanitizeName(name)
	labels := prometheus.Labels{}
	if bank != "" {
		labels["bank"] = bank
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        metric + "_total",
		ConstLabels: labels,
	})
	p.reg.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *PromStats) getHistogram(name string) prometheus.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hists[name]; ok {
		return h
	}
	metric, bank := sanitizeName(name)
	labels := prometheus.Labels{}
	if bank != "" {
		labels["bank"] = bank
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   p.namespace,
		Name:        metric,
		ConstLabels: labels,
		Buckets:     prometheus.LinearBuckets(0, 1, 65),
	})
	p.reg.MustRegister(h)
	p.hists[name] = h
	return h
}

func (p *PromStats) Add(name string, val int64) {
	p.getCounter(name).Add(float64(val))
}

func (p *PromStats) AddMany(nvs ...NamedVal64) {
	for _, nv := range nvs {
		p.getCounter(nv.Name).Add(float64(nv.Value))
	}
}

func (p *PromStats) AddSample(name string, val int64) {
	p.getHistogram(name).Observe(float64(val))
}
