/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCoreStatsCounters(t *testing.T) {
	st := NewCoreStats()
	st.Add("acts.0.0.0", 1)
	st.Add("acts.0.0.0", 2)
	st.AddMany(
		NamedVal64{Name: "mitig_used.0.0.0", Value: 1},
		NamedVal64{Name: "acts.0.0.0", Value: 1},
	)

	assert.Equal(t, int64(4), st.Get("acts.0.0.0"))
	assert.Equal(t, int64(1), st.Get("mitig_used.0.0.0"))
	assert.Equal(t, int64(0), st.Get("never.touched"))
	assert.Equal(t, []string{"acts.0.0.0", "mitig_used.0.0.0"}, st.Names())
}

func TestCoreStatsSamples(t *testing.T) {
	st := NewCoreStats()
	st.AddSample("acts_per_row_per_trefw", 3)
	st.AddSample("acts_per_row_per_trefw", 5)

	assert.Equal(t, []int64{3, 5}, st.Samples("acts_per_row_per_trefw"))
	assert.Empty(t, st.Samples("other"))
}

func TestPromStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	st := NewPromStats(reg, "dramsim")

	st.Add("acts.0.0.0", 2)
	st.Add("acts.0.0.0", 1)
	st.Add("num_alerts", 1)
	st.AddSample("acts_per_row_per_trefw", 7)

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, mfs, 3)
}

func TestNopStats(t *testing.T) {
	var tr Tracker = NopStats{}
	tr.Add("x", 1)
	tr.AddMany(NamedVal64{Name: "y", Value: 2})
	tr.AddSample("z", 3)
}
