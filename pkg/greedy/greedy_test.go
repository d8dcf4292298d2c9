package greedy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/planerr"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/workload"
)

func singleModel() []profile.ModelData {
	cfg := profile.ParallelConfig{DP: 1, OP: 1, PP: 2}
	return []profile.ModelData{
		{
			Name: "m", Rate: 1.0, SLO: 1.0,
			Profile: profile.ModelProfile{cfg: profile.StageProfile{
				Latency: map[int][]float64{1: {0.05, 0.05}}, WeightMem: []float64{1, 1},
			}},
		},
	}
}

func TestPlanFillsUniformGroups(t *testing.T) {
	cluster := profile.ClusterEnv{NumDevices: 4, NumDevicesPerNode: 4, MemBudgetPerDevice: 10}
	models := singleModel()
	wl := workload.Generate(models, 1)
	eval := evaluator.New(models, cluster, wl, evaluator.FastSimulator, false)

	cfg := Config{GroupSize: 2}
	p, err := cfg.Plan(models, cluster, eval)
	require.NoError(t, err)
	for _, g := range p.Groups {
		assert.Equal(t, 2, g.Config.PP)
	}
}

func TestPlanGroupSizeMustDivideDeviceCount(t *testing.T) {
	cluster := profile.ClusterEnv{NumDevices: 5, NumDevicesPerNode: 5, MemBudgetPerDevice: 10}
	models := singleModel()
	wl := workload.Generate(models, 1)
	eval := evaluator.New(models, cluster, wl, evaluator.FastSimulator, false)

	cfg := Config{GroupSize: 2}
	_, err := cfg.Plan(models, cluster, eval)
	require.Error(t, err)
	var invariant *planerr.InvariantViolationError
	assert.ErrorAs(t, err, &invariant)
}

func TestPlanZeroGroupSizeIsInvariantError(t *testing.T) {
	cluster := profile.ClusterEnv{NumDevices: 4, NumDevicesPerNode: 4, MemBudgetPerDevice: 10}
	models := singleModel()
	wl := workload.Generate(models, 1)
	eval := evaluator.New(models, cluster, wl, evaluator.FastSimulator, false)

	cfg := Config{GroupSize: 0}
	_, err := cfg.Plan(models, cluster, eval)
	require.Error(t, err)
}
