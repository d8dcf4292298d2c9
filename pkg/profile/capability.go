package profile

import (
	"math"
	"sync"
)

// capabilityKey identifies one memoized capability computation. It includes
// SLO (not just the model name) because two calls for the same model name
// with different SLOs are different computations.
type capabilityKey struct {
	model  string
	slo    float64
	config ParallelConfig
	maxBS  int
}

// CapabilityCache memoizes Capability across evaluator calls. compute_capability
// is a pure function of small inputs, so a process-lifetime cache amortizes the
// repeated lookups an evaluator batch performs.
type CapabilityCache struct {
	mu    sync.RWMutex
	cache map[capabilityKey]float64
}

// NewCapabilityCache returns an empty cache ready for use.
func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{cache: make(map[capabilityKey]float64)}
}

// Capability returns the SLO-adjusted maximum sustainable throughput of one
// replica of model running under config, considering batch sizes up to maxBS.
// Returns 0 if the config is not in the model's profile or yields zero
// bottleneck-stage latency.
func (c *CapabilityCache) Capability(model ModelData, config ParallelConfig, maxBS int) float64 {
	key := capabilityKey{model: model.Name, slo: model.SLO, config: config, maxBS: maxBS}

	c.mu.RLock()
	if v, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	v := computeCapability(model, config, maxBS)

	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// computeCapability implements §4.A: the maximum over profiled batch sizes
// b <= maxBS of the pipelined executor's sustainable throughput under a
// sum-plus-bubble latency model, discounted by a per-pipeline-stage
// scheduling overhead penalty.
func computeCapability(model ModelData, config ParallelConfig, maxBS int) float64 {
	stage, ok := model.Profile.Lookup(config)
	if !ok {
		return 0
	}

	maxCap := 0.0
	for b, latencies := range stage.Latency {
		if b > maxBS {
			continue
		}
		sum, max := 0.0, 0.0
		for _, l := range latencies {
			sum += l
			if l > max {
				max = l
			}
		}
		if max == 0 {
			continue
		}
		// slo = sum(latencies) + (n-1)*max(latencies)  =>  n = floor((slo-sum)/max) + 1
		n := math.Floor((model.SLO-sum)/max) + 1
		if n > maxCap {
			maxCap = n
		}
	}

	if maxCap <= 0 {
		return 0
	}
	return maxCap * math.Pow(0.99, float64(config.PP))
}
