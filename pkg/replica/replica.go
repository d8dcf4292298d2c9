// Package replica implements the placement primitives that insert or remove
// model replicas into an existing group skeleton: fast-greedy insertion,
// beam search, and a last-group-only variant used by greedy constructive
// search (spec §4.C).
package replica

import (
	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

// memFits reports whether adding model mi to group gi stays within the
// per-device memory budget, dividing the group's model weights evenly
// across its pipeline stages.
func memFits(p placement.Placement, gi, mi int, models []profile.ModelData, cluster profile.ClusterEnv) bool {
	g := p.Groups[gi]
	if g.Config.IsNull() {
		return false
	}
	stage, ok := models[mi].Profile.Lookup(g.Config)
	if !ok {
		return false
	}

	total := stage.MaxWeightMem()
	for existing := range g.Models {
		if existing == mi {
			continue
		}
		if s, ok := models[existing].Profile.Lookup(g.Config); ok {
			total += s.MaxWeightMem()
		}
	}
	perStage := total / float64(g.Config.PP)
	return perStage <= cluster.MemBudgetPerDevice
}

// heuristicDelta returns the capability of one candidate replica scaled by
// the model's rate. The primitives in this package do not call it: without
// an Evaluator they score placements with scorer's served-capability/rate sum.
func heuristicDelta(caps *profile.CapabilityCache, models []profile.ModelData, mi int, cfg profile.ParallelConfig) float64 {
	if models[mi].Rate <= 0 {
		return 0
	}
	return caps.Capability(models[mi], cfg, 1) * models[mi].Rate
}

// candidateInsertions enumerates every (group, model) pair not yet placed,
// in tie-break order: lowest group index, then lowest model index.
func candidateInsertions(p placement.Placement, models []profile.ModelData) [][2]int {
	var out [][2]int
	for gi, g := range p.Groups {
		if g.Config.IsNull() {
			continue
		}
		for mi := range models {
			if _, ok := g.Models[mi]; ok {
				continue
			}
			out = append(out, [2]int{gi, mi})
		}
	}
	return out
}

// scorer evaluates one candidate placement; it is either a full Evaluator
// batch call or the deterministic heuristic fallback.
type scorer struct {
	eval *evaluator.Evaluator
	caps *profile.CapabilityCache
}

func (s *scorer) score(models []profile.ModelData, p placement.Placement) float64 {
	if s.eval != nil {
		return s.eval.GetScores([]placement.Placement{p})[0]
	}
	// Heuristic score: sum over models of (served capability / rate),
	// mirroring the fast_simulator ratio without requiring a full Evaluator.
	total := 0.0
	for mi, m := range models {
		if m.Rate <= 0 {
			continue
		}
		served := 0.0
		for _, g := range p.Groups {
			if _, ok := g.Models[mi]; ok {
				served += s.caps.Capability(m, g.Config, 1)
			}
		}
		total += served / m.Rate
	}
	return total
}

// FastGreedy greedily inserts one replica at a time into the (group, model)
// pair yielding the largest marginal score improvement, subject to memory,
// until no insertion improves the score or memory is exhausted everywhere.
func FastGreedy(skeleton placement.Placement, models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator, verbose int) placement.Placement {
	cur := skeleton.Clone()
	s := &scorer{eval: eval, caps: profile.NewCapabilityCache()}
	curScore := s.score(models, cur)

	for {
		candidates := candidateInsertions(cur, models)
		bestGi, bestMi, bestScore := -1, -1, curScore
		for _, c := range candidates {
			gi, mi := c[0], c[1]
			if !memFits(cur, gi, mi, models, cluster) {
				continue
			}
			trial := cur.Clone()
			trial.AddModel(gi, mi)
			sc := s.score(models, trial)
			if sc > bestScore {
				bestScore, bestGi, bestMi = sc, gi, mi
			}
		}
		if bestGi < 0 {
			break
		}
		cur.AddModel(bestGi, bestMi)
		curScore = bestScore
		if verbose >= 2 {
			log.Debug().Int("group", bestGi).Int("model", bestMi).Float64("score", curScore).Msg("replica: fast_greedy inserted replica")
		}
	}
	return cur
}

// OnLastGroup is the restricted fast_greedy variant used by greedy
// constructive search: it only ever inserts into the final group of the
// skeleton, leaving earlier groups untouched.
func OnLastGroup(skeleton placement.Placement, models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator, verbose int) placement.Placement {
	cur := skeleton.Clone()
	if len(cur.Groups) == 0 {
		return cur
	}
	gi := len(cur.Groups) - 1
	s := &scorer{eval: eval, caps: profile.NewCapabilityCache()}
	curScore := s.score(models, cur)

	for {
		bestMi, bestScore := -1, curScore
		for mi := range models {
			if cur.HasModel(gi, mi) {
				continue
			}
			if !memFits(cur, gi, mi, models, cluster) {
				continue
			}
			trial := cur.Clone()
			trial.AddModel(gi, mi)
			sc := s.score(models, trial)
			if sc > bestScore {
				bestScore, bestMi = sc, mi
			}
		}
		if bestMi < 0 {
			break
		}
		cur.AddModel(gi, bestMi)
		curScore = bestScore
		if verbose >= 2 {
			log.Debug().Int("group", gi).Int("model", bestMi).Float64("score", curScore).Msg("replica: on_last_group inserted replica")
		}
	}
	return cur
}

// BeamSearch is a drop-in replacement for FastGreedy that keeps the top-k
// partial placements at each round instead of a single greedy path,
// terminating when every beam reaches a local optimum.
func BeamSearch(skeleton placement.Placement, models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator, k int, verbose int) placement.Placement {
	if k < 1 {
		k = 1
	}
	s := &scorer{eval: eval, caps: profile.NewCapabilityCache()}

	type beam struct {
		p     placement.Placement
		score float64
		done  bool
	}
	beams := []beam{{p: skeleton.Clone(), score: s.score(models, skeleton)}}

	for {
		allDone := true
		var next []beam
		seen := make(map[string]bool)

		for _, b := range beams {
			if b.done {
				next = append(next, b)
				continue
			}
			candidates := candidateInsertions(b.p, models)
			type expansion struct {
				p     placement.Placement
				score float64
			}
			var expansions []expansion
			for _, c := range candidates {
				gi, mi := c[0], c[1]
				if !memFits(b.p, gi, mi, models, cluster) {
					continue
				}
				trial := b.p.Clone()
				trial.AddModel(gi, mi)
				sc := s.score(models, trial)
				if sc > b.score {
					expansions = append(expansions, expansion{p: trial, score: sc})
				}
			}
			if len(expansions) == 0 {
				next = append(next, beam{p: b.p, score: b.score, done: true})
				continue
			}
			allDone = false
			for _, ex := range expansions {
				key := placementKey(ex.p)
				if seen[key] {
					continue
				}
				seen[key] = true
				next = append(next, beam{p: ex.p, score: ex.score})
			}
		}

		// keep top-k by score
		for i := 1; i < len(next); i++ {
			for j := i; j > 0 && next[j-1].score < next[j].score; j-- {
				next[j-1], next[j] = next[j], next[j-1]
			}
		}
		if len(next) > k {
			next = next[:k]
		}
		beams = next

		if allDone {
			break
		}
		if verbose >= 2 {
			log.Debug().Int("beams", len(beams)).Float64("best", beams[0].score).Msg("replica: beam_search round complete")
		}
	}

	best := beams[0]
	for _, b := range beams[1:] {
		if b.score > best.score {
			best = b
		}
	}
	return best.p
}

// placementKey gives a cheap structural fingerprint used to dedupe beams;
// it is not a serialization format, only good enough to avoid expanding the
// same placement twice in one round.
func placementKey(p placement.Placement) string {
	b := make([]byte, 0, 32*len(p.Groups))
	for _, g := range p.Groups {
		b = append(b, byte(g.Config.DP), byte(g.Config.OP), byte(g.Config.PP))
		for _, mi := range g.ModelIndices() {
			b = append(b, byte(mi), byte(mi>>8))
		}
		b = append(b, 0xff)
	}
	return string(b)
}
