// Package evolution implements population-based mutation/selection
// refinement on top of any seed placement (spec §4.E).
package evolution

import (
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

// Config tunes the evolutionary search. Zero-value fields fall back to
// reasonable defaults in Search.
type Config struct {
	PopulationSize int
	Generations    int
	Seed           int64
	Verbose        int
}

func (c Config) withDefaults() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 8
	}
	if c.Generations <= 0 {
		c.Generations = 200
	}
	return c
}

// Search runs generation-bounded evolutionary refinement starting from
// seeds, and returns the best placement observed across the whole run
// (never worse than the best seed). Deterministic given Config.Seed.
func Search(seeds []placement.Placement, models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator, cfg Config) placement.Placement {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	pop := make([]placement.Placement, 0, cfg.PopulationSize)
	for _, s := range seeds {
		pop = append(pop, s.Clone())
	}
	for len(pop) < cfg.PopulationSize && len(seeds) > 0 {
		pop = append(pop, seeds[rng.Intn(len(seeds))].Clone())
	}

	scores := eval.GetScores(pop)
	bestIdx := argmax(scores)
	best := pop[bestIdx].Clone()
	bestScore := scores[bestIdx]

	for gen := 0; gen < cfg.Generations; gen++ {
		offspring := make([]placement.Placement, 0, len(pop))
		for _, parent := range pop {
			child, ok := mutate(parent, models, rng)
			if ok {
				offspring = append(offspring, child)
			}
		}
		if len(offspring) == 0 {
			continue
		}

		candidates := append(append([]placement.Placement{}, pop...), offspring...)
		candidateScores := eval.GetScores(candidates)

		genBestIdx := argmax(candidateScores)
		if candidateScores[genBestIdx] > bestScore {
			bestScore = candidateScores[genBestIdx]
			best = candidates[genBestIdx].Clone()
		}

		pop, scores = selectTop(candidates, candidateScores, cfg.PopulationSize)

		if cfg.Verbose >= 1 {
			log.Info().Int("generation", gen).Float64("best_score", bestScore).Msg("evolution: generation complete")
		}
	}

	return best
}

// selectTop keeps the n highest-scoring (placement, score) pairs.
func selectTop(pop []placement.Placement, scores []float64, n int) ([]placement.Placement, []float64) {
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && scores[idx[j-1]] < scores[idx[j]]; j-- {
			idx[j-1], idx[j] = idx[j], idx[j-1]
		}
	}
	if n > len(idx) {
		n = len(idx)
	}
	outP := make([]placement.Placement, n)
	outS := make([]float64, n)
	for i := 0; i < n; i++ {
		outP[i] = pop[idx[i]]
		outS[i] = scores[idx[i]]
	}
	return outP, outS
}

func argmax(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// mutate applies one of three device-count-preserving mutation operators:
// move a replica between groups, exchange the whole replica sets of two
// groups (individual replicas are not swapped one for one), or repartition
// two adjacent groups into a different factorization of their combined size.
// Returns ok=false if the chosen operator found nothing to do on p.
func mutate(p placement.Placement, models []profile.ModelData, rng *rand.Rand) (placement.Placement, bool) {
	switch rng.Intn(3) {
	case 0:
		return mutateMove(p, rng)
	case 1:
		return mutateSwap(p, rng)
	default:
		return mutateRepartition(p, models, rng)
	}
}

// mutateMove relocates one replica from its current group to a different,
// non-null group that does not already host it.
func mutateMove(p placement.Placement, rng *rand.Rand) (placement.Placement, bool) {
	type loc struct{ gi, mi int }
	var locs []loc
	for gi, g := range p.Groups {
		for _, mi := range g.ModelIndices() {
			locs = append(locs, loc{gi, mi})
		}
	}
	if len(locs) == 0 {
		return p, false
	}
	src := locs[rng.Intn(len(locs))]

	var targets []int
	for gi, g := range p.Groups {
		if gi == src.gi || g.Config.IsNull() {
			continue
		}
		if _, has := g.Models[src.mi]; has {
			continue
		}
		targets = append(targets, gi)
	}
	if len(targets) == 0 {
		return p, false
	}
	dst := targets[rng.Intn(len(targets))]

	cp := p.Clone()
	cp.RemoveModel(src.gi, src.mi)
	cp.AddModel(dst, src.mi)
	return cp, true
}

// mutateSwap exchanges the replica sets of two distinct non-null groups.
func mutateSwap(p placement.Placement, rng *rand.Rand) (placement.Placement, bool) {
	var nonNull []int
	for gi, g := range p.Groups {
		if !g.Config.IsNull() {
			nonNull = append(nonNull, gi)
		}
	}
	if len(nonNull) < 2 {
		return p, false
	}
	rng.Shuffle(len(nonNull), func(i, j int) { nonNull[i], nonNull[j] = nonNull[j], nonNull[i] })
	a, b := nonNull[0], nonNull[1]

	cp := p.Clone()
	cp.Groups[a].Models, cp.Groups[b].Models = cp.Groups[b].Models, cp.Groups[a].Models
	return cp, true
}

// mutateRepartition picks two adjacent groups, and if their device counts
// sum to a size with more than one factorization, rewrites them under a
// different (op, pp) split while preserving total devices. Models whose
// profile has no entry for the new config are dropped; the memory budget is
// not checked (the next generation's scoring will penalize a bad split).
func mutateRepartition(p placement.Placement, models []profile.ModelData, rng *rand.Rand) (placement.Placement, bool) {
	if len(p.Groups) < 2 {
		return p, false
	}
	i := rng.Intn(len(p.Groups) - 1)
	g1, g2 := p.Groups[i], p.Groups[i+1]
	if g1.Config.IsNull() || g2.Config.IsNull() {
		return p, false
	}
	combined := g1.Config.Size() + g2.Config.Size()

	factors := profile.GetFactors(combined)
	if len(factors) <= 2 { // only 1 and itself: no alternative factorization
		return p, false
	}
	pp := factors[rng.Intn(len(factors))]
	op := combined / pp
	newCfg := profile.ParallelConfig{DP: 1, OP: op, PP: pp}
	if newCfg == g1.Config && combined == g1.Config.Size() {
		return p, false
	}

	cp := p.Clone()
	cp.Groups[i] = placement.Group{Config: newCfg, Models: make(map[int]struct{})}
	cp.Groups[i+1] = placement.Group{Config: profile.NullConfig, Models: make(map[int]struct{})}

	// carry over replicas that are still feasible under the new config
	for mi := range g1.Models {
		if _, ok := models[mi].Profile.Lookup(newCfg); ok {
			cp.Groups[i].Models[mi] = struct{}{}
		}
	}
	for mi := range g2.Models {
		if _, ok := models[mi].Profile.Lookup(newCfg); ok {
			cp.Groups[i].Models[mi] = struct{}{}
		}
	}
	return cp, true
}
