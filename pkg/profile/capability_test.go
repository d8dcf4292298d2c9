package profile

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func singleStageModel(slo float64, latency float64) ModelData {
	cfg := ParallelConfig{DP: 1, OP: 1, PP: 1}
	return ModelData{
		Name: "m",
		SLO:  slo,
		Profile: ModelProfile{
			cfg: StageProfile{
				Latency:   map[int][]float64{1: {latency}},
				WeightMem: []float64{1},
			},
		},
	}
}

func TestCapabilityZeroWhenSLOTooTight(t *testing.T) {
	cache := NewCapabilityCache()
	m := singleStageModel(0.05, 0.1)
	cfg := ParallelConfig{DP: 1, OP: 1, PP: 1}
	assert.Equal(t, 0.0, cache.Capability(m, cfg, 1))
}

func TestCapabilityMissingProfileIsZero(t *testing.T) {
	cache := NewCapabilityCache()
	m := ModelData{Name: "m", SLO: 1, Profile: ModelProfile{}}
	cfg := ParallelConfig{DP: 1, OP: 1, PP: 2}
	assert.Equal(t, 0.0, cache.Capability(m, cfg, 1))
}

func TestCapabilityCached(t *testing.T) {
	cache := NewCapabilityCache()
	m := singleStageModel(1.0, 0.1)
	cfg := ParallelConfig{DP: 1, OP: 1, PP: 1}

	first := cache.Capability(m, cfg, 1)
	second := cache.Capability(m, cfg, 1)
	assert.Equal(t, first, second)
	assert.Greater(t, first, 0.0)
}

// TestCapabilityMonotoneInSLO checks spec §8's monotonicity property:
// relaxing the SLO (holding everything else fixed) never decreases
// capability.
func TestCapabilityMonotoneInSLO(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("capability is non-decreasing in SLO", prop.ForAll(
		func(slo, delta, latency float64) bool {
			cache := NewCapabilityCache()
			cfg := ParallelConfig{DP: 1, OP: 1, PP: 1}
			lo := singleStageModel(slo, latency)
			hi := singleStageModel(slo+delta, latency)
			return cache.Capability(hi, cfg, 1) >= cache.Capability(lo, cfg, 1)
		},
		gen.Float64Range(0.01, 10),
		gen.Float64Range(0, 10),
		gen.Float64Range(0.01, 1),
	))

	properties.TestingRun(t)
}

// TestCapabilityPipelineDepthPenalty checks that, holding per-stage latency
// fixed, increasing pipeline depth applies the documented 0.99^pp penalty
// and never increases capability.
func TestCapabilityPipelineDepthPenalty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("capability is non-increasing in pipeline depth", prop.ForAll(
		func(pp1, pp2 int) bool {
			if pp2 < pp1 {
				pp1, pp2 = pp2, pp1
			}
			cache := NewCapabilityCache()
			stage := StageProfile{Latency: map[int][]float64{1: {0.05}}, WeightMem: []float64{1}}
			m := ModelData{
				Name: "m",
				SLO:  1.0,
				Profile: ModelProfile{
					{DP: 1, OP: 1, PP: pp1}: stage,
					{DP: 1, OP: 1, PP: pp2}: stage,
				},
			}
			lo := cache.Capability(m, ParallelConfig{DP: 1, OP: 1, PP: pp2}, 1)
			hi := cache.Capability(m, ParallelConfig{DP: 1, OP: 1, PP: pp1}, 1)
			return hi >= lo
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
