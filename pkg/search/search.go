// Package search implements the group-partition planner (spec §4.G): build
// admissible group-partition skeletons (either the full enumeration or the
// incremental beam-growth variant, which fills each group as it is appended
// via replica.OnLastGroup), fill with replica.FastGreedy, keep the best, and
// optionally hand it to evolutionary refinement.
package search

import (
	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/evolution"
	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/planerr"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/replica"
)

// Config tunes the search planner.
type Config struct {
	MaxOP, MaxPP int // bounds on a single group's operator- and pipeline-parallel depth
	MaxBatchSize int

	// UseBeamGrowth selects GreedyGroupConfigs (incremental beam-pruned
	// construction) instead of the default full enumeration. It trades
	// completeness for speed on clusters with many admissible group sizes;
	// the default (false) is what production planning runs should use.
	UseBeamGrowth bool
	BeamWidth     int

	Evolve          bool
	EvolutionConfig evolution.Config

	Verbose int
}

// DefaultConfig matches the original's defaults: pp/op up to 8, batch size 1,
// full enumeration, no evolutionary refinement.
func DefaultConfig() Config {
	return Config{MaxOP: 8, MaxPP: 8, MaxBatchSize: 1, BeamWidth: 4}
}

// Plan runs the enumerative search planner and returns the best placement
// found. Construction is single-shot per skeleton (no restart loop): each
// skeleton is filled once by fast_greedy and scored once, matching the
// original implementation's n_iter=1 behavior (spec §9).
func (cfg Config) Plan(models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator) (placement.Placement, error) {
	if err := cluster.Validate(); err != nil {
		return placement.Placement{}, err
	}

	var skeletons []placement.Placement
	if cfg.UseBeamGrowth {
		skeletons = GreedyGroupConfigs(models, cluster, eval, cfg.MaxOP, cfg.MaxPP, cfg.BeamWidth)
	} else {
		skeletons = EnumerateGroupConfigs(cluster, cfg.MaxOP, cfg.MaxPP)
	}

	if len(skeletons) == 0 {
		return placement.Placement{}, &planerr.InvariantViolationError{
			Detail: "no group-partition skeleton respects the node-boundary rule and configured op/pp bounds for this device count",
		}
	}

	var best placement.Placement
	bestScore := -1.0
	for _, skeleton := range skeletons {
		filled := replica.FastGreedy(skeleton, models, cluster, eval, cfg.Verbose)
		score := eval.GetScores([]placement.Placement{filled})[0]
		if cfg.Verbose >= 1 {
			log.Info().Int("groups", len(skeleton.Groups)).Float64("score", score).Msg("search: skeleton scored")
		}
		if score > bestScore {
			bestScore, best = score, filled
		}
	}

	if cfg.Evolve {
		best = evolution.Search([]placement.Placement{best}, models, cluster, eval, cfg.EvolutionConfig)
	}

	return best.Pruned(), nil
}

// EnumerateGroupConfigs builds one skeleton per admissible uniform group
// size: a group size must evenly divide the cluster's device count and must
// not straddle a node boundary improperly (profile.ClusterEnv.CrossesNodeCleanly),
// and is split into every (op, pp) factorization within the configured
// bounds.
func EnumerateGroupConfigs(cluster profile.ClusterEnv, maxOP, maxPP int) []placement.Placement {
	var out []placement.Placement
	for _, groupSize := range profile.GetFactors(cluster.NumDevices) {
		if groupSize == 0 {
			continue
		}
		if !cluster.CrossesNodeCleanly(groupSize) {
			continue
		}
		numGroups := cluster.NumDevices / groupSize
		for _, pp := range profile.GetFactors(groupSize) {
			if pp == 0 || pp > maxPP {
				continue
			}
			op := groupSize / pp
			if op > maxOP {
				continue
			}
			cfg := profile.ParallelConfig{DP: 1, OP: op, PP: pp}
			out = append(out, placement.NewSkeleton(cfg, numGroups))
		}
	}
	return out
}

// GreedyGroupConfigs is the incremental beam-growth alternative to full
// enumeration (spec §4.G): it grows a set of candidate placements one group
// at a time, filling each newly appended group's replicas via
// replica.OnLastGroup and scoring the resulting placement with eval, keeping
// only the beamWidth highest-scoring partials at each round rather than
// generating every factorization up front. It trades completeness for a
// smaller candidate set on clusters with many divisors; callers opt into it
// via Config.UseBeamGrowth.
func GreedyGroupConfigs(models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator, maxOP, maxPP, beamWidth int) []placement.Placement {
	if beamWidth < 1 {
		beamWidth = 1
	}

	type partial struct {
		p        placement.Placement
		devsUsed int
		score    float64
	}
	beams := []partial{{p: placement.Placement{}}}

	admissible := admissibleGroupSizes(cluster, maxOP, maxPP)
	if len(admissible) == 0 {
		return nil
	}

	for {
		var next []partial
		allComplete := true
		for _, b := range beams {
			if b.devsUsed == cluster.NumDevices {
				next = append(next, b)
				continue
			}
			allComplete = false
			for _, gs := range admissible {
				if b.devsUsed+gs.size > cluster.NumDevices {
					continue
				}
				grown := b.p.Clone()
				grown.AppendGroup(gs.cfg)
				filled := replica.OnLastGroup(grown, models, cluster, eval, 0)
				score := eval.GetScores([]placement.Placement{filled})[0]
				next = append(next, partial{p: filled, devsUsed: b.devsUsed + gs.size, score: score})
			}
		}
		if allComplete {
			break
		}
		// keep the beamWidth partials with the highest score
		for i := 1; i < len(next); i++ {
			for j := i; j > 0 && next[j-1].score < next[j].score; j-- {
				next[j-1], next[j] = next[j], next[j-1]
			}
		}
		if len(next) > beamWidth {
			next = next[:beamWidth]
		}
		beams = next
		if len(beams) == 0 {
			return nil
		}
	}

	out := make([]placement.Placement, 0, len(beams))
	for _, b := range beams {
		if b.devsUsed != cluster.NumDevices {
			continue
		}
		out = append(out, b.p)
	}
	return out
}

type groupSizeOption struct {
	cfg  profile.ParallelConfig
	size int
}

func admissibleGroupSizes(cluster profile.ClusterEnv, maxOP, maxPP int) []groupSizeOption {
	var out []groupSizeOption
	for _, groupSize := range profile.GetFactors(cluster.NumDevices) {
		if groupSize == 0 || !cluster.CrossesNodeCleanly(groupSize) {
			continue
		}
		for _, pp := range profile.GetFactors(groupSize) {
			if pp == 0 || pp > maxPP {
				continue
			}
			op := groupSize / pp
			if op > maxOP {
				continue
			}
			out = append(out, groupSizeOption{cfg: profile.ParallelConfig{DP: 1, OP: op, PP: pp}, size: groupSize})
		}
	}
	return out
}
