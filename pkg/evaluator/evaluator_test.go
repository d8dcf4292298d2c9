package evaluator

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/workload"
)

func oneModelCluster() ([]profile.ModelData, profile.ClusterEnv) {
	cfg := profile.ParallelConfig{DP: 1, OP: 1, PP: 1}
	models := []profile.ModelData{
		{
			Name: "m",
			Rate: 1.0,
			SLO:  1.0,
			Profile: profile.ModelProfile{
				cfg: profile.StageProfile{
					Latency:   map[int][]float64{1: {0.05}},
					WeightMem: []float64{1},
				},
			},
		},
	}
	cluster := profile.ClusterEnv{NumDevices: 2, NumDevicesPerNode: 2, MemBudgetPerDevice: 10}
	return models, cluster
}

func TestGetScoresEmptyPlacementIsZero(t *testing.T) {
	models, cluster := oneModelCluster()
	wl := workload.Generate(models, 1)
	e := New(models, cluster, wl, FastSimulator, false)

	p := placement.NewSkeleton(profile.ParallelConfig{DP: 1, OP: 1, PP: 1}, 1)
	scores := e.GetScores([]placement.Placement{p})
	require.Len(t, scores, 1)
	assert.Equal(t, 0.0, scores[0])
}

func TestGetScoresServedModelIsPositive(t *testing.T) {
	models, cluster := oneModelCluster()
	wl := workload.Generate(models, 1)
	e := New(models, cluster, wl, FastSimulator, false)

	p := placement.NewSkeleton(profile.ParallelConfig{DP: 1, OP: 1, PP: 1}, 1)
	p.AddModel(0, 0)
	scores := e.GetScores([]placement.Placement{p})
	assert.Greater(t, scores[0], 0.0)
}

func TestTopK(t *testing.T) {
	scores := []float64{0.2, 0.9, 0.5}
	top := TopK(scores, 2)
	assert.Equal(t, []int{1, 2}, top)
}

// TestSequentialAndParallelScoringAgree checks the evaluator's ordering
// guarantee: sequential and parallel scoring produce identical results for
// the same input slice, regardless of worker count.
func TestSequentialAndParallelScoringAgree(t *testing.T) {
	properties := gopter.NewProperties(nil)
	models, cluster := oneModelCluster()
	wl := workload.Generate(models, 1)

	properties.Property("parallel scores match sequential scores in order", prop.ForAll(
		func(n, workers int) bool {
			placements := make([]placement.Placement, n)
			for i := range placements {
				p := placement.NewSkeleton(profile.ParallelConfig{DP: 1, OP: 1, PP: 1}, 1)
				if i%2 == 0 {
					p.AddModel(0, 0)
				}
				placements[i] = p
			}

			seq := New(models, cluster, wl, FastSimulator, false)
			par := New(models, cluster, wl, FastSimulator, true, WithWorkers(workers))

			seqScores := seq.GetScores(placements)
			parScores := par.GetScores(placements)

			if len(seqScores) != len(parScores) {
				return false
			}
			for i := range seqScores {
				if seqScores[i] != parScores[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
