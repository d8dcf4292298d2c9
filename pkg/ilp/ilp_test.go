package ilp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/placementplanner/pkg/planerr"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

func oneDeviceSetup() ([]profile.ModelData, profile.ClusterEnv) {
	cfg := profile.ParallelConfig{DP: 1, OP: 1, PP: 1}
	models := []profile.ModelData{
		{
			Name: "m", Rate: 1.0, SLO: 1.0,
			Profile: profile.ModelProfile{cfg: profile.StageProfile{
				Latency: map[int][]float64{1: {0.05}}, WeightMem: []float64{1},
			}},
		},
	}
	cluster := profile.ClusterEnv{NumDevices: 1, NumDevicesPerNode: 1, MemBudgetPerDevice: 2}
	return models, cluster
}

func TestSolveFeasibleSingleDevice(t *testing.T) {
	models, cluster := oneDeviceSetup()
	pl := &Planner{
		GroupConfigs: []profile.ParallelConfig{profile.NullConfig, {DP: 1, OP: 1, PP: 1}},
		MaxBatchSize: 1,
		TimeLimit:    5e9, // 5s, expressed in ns to avoid importing time in the test
	}

	p, report, err := pl.Solve(context.Background(), models, cluster)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalDevices())
	assert.True(t, p.HasModel(0, 0))
	assert.Greater(t, report.Objective, 0.0)
}

func TestSolveInfeasibleBudget(t *testing.T) {
	models, cluster := oneDeviceSetup()
	cluster.MemBudgetPerDevice = 0.1 // model's weight mem (1) can never fit
	pl := &Planner{
		GroupConfigs: []profile.ParallelConfig{profile.NullConfig, {DP: 1, OP: 1, PP: 1}},
		MaxBatchSize: 1,
		TimeLimit:    5e9,
	}

	_, _, err := pl.Solve(context.Background(), models, cluster)
	require.Error(t, err)
	var infeasible *planerr.InfeasibleBudgetError
	assert.ErrorAs(t, err, &infeasible)
}

func TestIndexOffsetsAreDistinct(t *testing.T) {
	idx := index{n: 2, m: 2, k: 2}
	seen := map[int]bool{}
	for i := 0; i < idx.n; i++ {
		for j := 0; j < idx.m; j++ {
			seen[idx.p(i, j)] = true
		}
	}
	for j := 0; j < idx.m; j++ {
		for kk := 0; kk < idx.k; kk++ {
			seen[idx.s(j, kk)] = true
		}
	}
	for i := 0; i < idx.n; i++ {
		for j := 0; j < idx.m; j++ {
			for kk := 0; kk < idx.k; kk++ {
				seen[idx.pxs(i, j, kk)] = true
			}
		}
	}
	seen[idx.minTol()] = true
	seen[idx.sumTol()] = true
	assert.Len(t, seen, idx.numVars())
}
