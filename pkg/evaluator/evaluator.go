// Package evaluator scores candidate placements by simulating a shared
// workload against them (spec §4.D). It never mutates a Placement.
package evaluator

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/workload"
)

// Method selects the scoring backend.
type Method string

const (
	// FastSimulator uses a closed-form queueing approximation.
	FastSimulator Method = "fast_simulator"
	// FullSimulator delegates to an injected discrete-event Simulator.
	FullSimulator Method = "full_simulator"
)

// Case is one simulated workload replay: a placement paired with the model
// and cluster data it must serve.
type Case struct {
	Placement  placement.Placement
	Models     []profile.ModelData
	Cluster    profile.ClusterEnv
	Workload   workload.Workload
}

// Metrics is the minimum result a simulator reports for one case.
type Metrics struct {
	Goodput float64 // fraction of requests meeting SLO, in [0,1]
}

// Simulator is the external discrete-event simulator contract (spec §6),
// consumed by the full_simulator evaluator. The engine itself is out of
// scope for this module.
type Simulator interface {
	SimulateOneCase(c Case) (Metrics, error)
}

// Evaluator scores placements. Implementations must be order-preserving and
// deterministic: get_scores([a,b,c]) == get_scores([a,b,c]), and permuting
// the input permutes the output identically.
type Evaluator struct {
	models    []profile.ModelData
	cluster   profile.ClusterEnv
	workload  workload.Workload
	method    Method
	parallel  bool
	workers   int
	simulator Simulator
	caps      *profile.CapabilityCache
	maxBS     int
}

// Option configures an Evaluator at construction time.
type Option func(*Evaluator)

// WithSimulator installs the discrete-event simulator used by FullSimulator.
func WithSimulator(s Simulator) Option {
	return func(e *Evaluator) { e.simulator = s }
}

// WithWorkers sets the worker count used when parallel scoring is enabled.
// With parallel scoring enabled, a count below 2 (including unset) is
// replaced by 4.
func WithWorkers(n int) Option {
	return func(e *Evaluator) { e.workers = n }
}

// WithMaxBatchSize bounds the batch sizes the capability model considers.
func WithMaxBatchSize(n int) Option {
	return func(e *Evaluator) { e.maxBS = n }
}

// New constructs an Evaluator for one planning run.
func New(models []profile.ModelData, cluster profile.ClusterEnv, wl workload.Workload, method Method, parallel bool, opts ...Option) *Evaluator {
	e := &Evaluator{
		models:   models,
		cluster:  cluster,
		workload: wl,
		method:   method,
		parallel: parallel,
		workers:  1,
		caps:     profile.NewCapabilityCache(),
		maxBS:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallel && e.workers < 2 {
		e.workers = 4
	}
	return e
}

// GetScores scores every placement in order, returning scores in the same
// order as input (ordering guarantee, spec §4.D/§5).
func (e *Evaluator) GetScores(placements []placement.Placement) []float64 {
	if !e.parallel || len(placements) < 2 {
		scores := make([]float64, len(placements))
		for i, p := range placements {
			scores[i] = e.scoreOne(p)
		}
		return scores
	}
	return e.scoreParallel(placements)
}

// scoreParallel fans placement scoring out across a bounded worker pool and
// reassembles results by index, never relying on completion order.
func (e *Evaluator) scoreParallel(placements []placement.Placement) []float64 {
	type job struct {
		idx int
		p   placement.Placement
	}
	type result struct {
		idx   int
		score float64
	}

	jobs := make(chan job, len(placements))
	results := make(chan result, len(placements))

	workers := e.workers
	if workers > len(placements) {
		workers = len(placements)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- result{idx: j.idx, score: e.scoreOne(j.p)}
			}
		}()
	}

	for i, p := range placements {
		jobs <- job{idx: i, p: p}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	scores := make([]float64, len(placements))
	for r := range results {
		scores[r.idx] = r.score
	}
	return scores
}

func (e *Evaluator) scoreOne(p placement.Placement) float64 {
	switch e.method {
	case FullSimulator:
		if e.simulator == nil {
			log.Warn().Msg("evaluator: full_simulator method selected with no Simulator configured, falling back to fast_simulator")
			return e.fastSimulatorScore(p)
		}
		metrics, err := e.simulator.SimulateOneCase(Case{
			Placement: p,
			Models:    e.models,
			Cluster:   e.cluster,
			Workload:  e.workload,
		})
		if err != nil {
			log.Error().Err(err).Msg("evaluator: simulator case failed, scoring 0")
			return 0
		}
		return clamp01(metrics.Goodput)
	default:
		return e.fastSimulatorScore(p)
	}
}

// fastSimulatorScore is a closed-form queueing approximation: each model's
// served capability is the sum of its replicas' capability; goodput for
// that model is capped at 1 by the ratio of served capability to its
// arrival rate, and the placement's score is the worst-served model's
// ratio (mirroring the ILP's min-tolerance objective so all planners
// optimize toward the same notion of goodness).
func (e *Evaluator) fastSimulatorScore(p placement.Placement) float64 {
	if len(e.models) == 0 {
		return 0
	}

	minRatio := math.Inf(1)
	anyFinite := false
	for mi, m := range e.models {
		if m.Rate <= 0 {
			continue // zero-rate models are skipped, per spec §8 boundary case
		}
		anyFinite = true
		served := 0.0
		for _, g := range p.Groups {
			if _, ok := g.Models[mi]; ok {
				served += e.caps.Capability(m, g.Config, e.maxBS)
			}
		}
		ratio := served / m.Rate
		if ratio < minRatio {
			minRatio = ratio
		}
	}
	if !anyFinite {
		return 0
	}
	return clamp01(minRatio)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortIndices is the argsort-style helper behind TopK (mirrors numpy.argsort(scores)[::-1][:k] in the
// original search planner).
func sortIndices(scores []float64, descending bool) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if descending {
			return scores[idx[a]] > scores[idx[b]]
		}
		return scores[idx[a]] < scores[idx[b]]
	})
	return idx
}

// TopK returns the indices of the k highest-scoring entries, descending.
func TopK(scores []float64, k int) []int {
	idx := sortIndices(scores, true)
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}
