// Package greedy implements the uniform-greedy placement planner (spec
// §4.H): a single fixed group size across the whole cluster, filled by
// incremental replica insertion, with optional evolutionary refinement.
// It is the cheapest of the three planners and the one most directly
// comparable to a hand round-robin assignment.
package greedy

import (
	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/evolution"
	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/planerr"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/replica"
)

// Config tunes the uniform-greedy planner.
type Config struct {
	GroupSize       int // pipeline depth applied uniformly to every group
	Evolve          bool
	EvolutionConfig evolution.Config
	Verbose         int
}

// Plan builds num_devices/GroupSize groups, each configured as pure pipeline
// parallelism of depth GroupSize, and fills them via replica.FastGreedy.
// Returns InvariantViolationError if GroupSize does not evenly divide the
// cluster's device count.
func (cfg Config) Plan(models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator) (placement.Placement, error) {
	if err := cluster.Validate(); err != nil {
		return placement.Placement{}, err
	}
	if cfg.GroupSize <= 0 || cluster.NumDevices%cfg.GroupSize != 0 {
		return placement.Placement{}, &planerr.InvariantViolationError{
			Detail: "uniform group size must evenly divide the cluster's device count",
		}
	}

	numGroups := cluster.NumDevices / cfg.GroupSize
	groupCfg := profile.ParallelConfig{DP: 1, OP: 1, PP: cfg.GroupSize}
	skeleton := placement.NewSkeleton(groupCfg, numGroups)

	filled := replica.FastGreedy(skeleton, models, cluster, eval, cfg.Verbose)

	if cfg.Evolve {
		filled = evolution.Search([]placement.Placement{filled}, models, cluster, eval, cfg.EvolutionConfig)
	}

	return filled.Pruned(), nil
}
