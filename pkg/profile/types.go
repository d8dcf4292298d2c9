// Package profile holds the placement planner's input data model: parallel
// configurations, per-model latency/memory profiles, and the cluster
// description the planners size placements against.
package profile

import "fmt"

// ParallelConfig is a (data-parallel, operator-parallel, pipeline-parallel)
// degree triple. Its product is the number of devices one replica occupies.
type ParallelConfig struct {
	DP int
	OP int
	PP int
}

// NullConfig marks a group as idle: no devices, no models.
var NullConfig = ParallelConfig{}

// Size returns the number of devices one group running this config occupies.
func (c ParallelConfig) Size() int {
	return c.DP * c.OP * c.PP
}

func (c ParallelConfig) String() string {
	return fmt.Sprintf("(dp=%d,op=%d,pp=%d)", c.DP, c.OP, c.PP)
}

// IsNull reports whether c is the distinguished idle configuration.
func (c ParallelConfig) IsNull() bool {
	return c == NullConfig
}

// StageProfile holds the per-pipeline-stage latency and weight-memory
// footprint of one model under one ParallelConfig. Latency is keyed by
// batch size; each entry is the list of per-stage latencies at that batch
// size. WeightMem is the per-stage weight footprint, independent of batch
// size.
type StageProfile struct {
	Latency   map[int][]float64
	WeightMem []float64
}

// MaxWeightMem returns the largest per-stage weight footprint, i.e. the
// stage that dominates a single device's memory demand.
func (s StageProfile) MaxWeightMem() float64 {
	max := 0.0
	for _, m := range s.WeightMem {
		if m > max {
			max = m
		}
	}
	return max
}

// ModelProfile maps a ParallelConfig to its StageProfile. A missing entry
// means the config is infeasible for this model.
type ModelProfile map[ParallelConfig]StageProfile

// Lookup returns the StageProfile for cfg and whether it is present.
func (p ModelProfile) Lookup(cfg ParallelConfig) (StageProfile, bool) {
	sp, ok := p[cfg]
	return sp, ok
}

// ModelData describes one model's traffic profile and serving requirement.
type ModelData struct {
	Name    string
	Rate    float64 // long-run mean arrivals/sec
	SLO     float64 // per-request latency bound, seconds
	Profile ModelProfile
}

// ClusterEnv describes the accelerator fleet a placement is built for.
type ClusterEnv struct {
	NumDevices        int
	NumDevicesPerNode int
	MemBudgetPerDevice float64
}

// Validate enforces the cluster invariant that devices divide evenly across
// nodes.
func (c ClusterEnv) Validate() error {
	if c.NumDevicesPerNode <= 0 {
		return fmt.Errorf("profile: num_devices_per_node must be positive, got %d", c.NumDevicesPerNode)
	}
	if c.NumDevices%c.NumDevicesPerNode != 0 {
		return fmt.Errorf("profile: num_devices (%d) not divisible by num_devices_per_node (%d)",
			c.NumDevices, c.NumDevicesPerNode)
	}
	return nil
}

// CrossesNodeCleanly reports whether a group of the given size either fits
// within one node or spans a whole number of nodes.
func (c ClusterEnv) CrossesNodeCleanly(groupSize int) bool {
	if groupSize <= c.NumDevicesPerNode {
		return true
	}
	return groupSize%c.NumDevicesPerNode == 0
}

// GetFactors returns the positive divisors of n in increasing order.
func GetFactors(n int) []int {
	var out []int
	for i := 1; i*i <= n; i++ {
		if n%i == 0 {
			out = append(out, i)
			if i != n/i {
				out = append(out, n/i)
			}
		}
	}
	// simple insertion sort; factor counts are tiny (device counts, not data sizes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
