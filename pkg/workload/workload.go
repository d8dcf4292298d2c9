// Package workload generates the synthetic arrival process a placement
// evaluator scores candidate placements against. The discrete-event
// simulator that consumes a Workload is an external collaborator (spec
// §1); this package only produces the arrival description.
package workload

import (
	"fmt"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

// GammaProcess describes a Gamma-distributed renewal arrival process: mean
// inter-arrival rate and coefficient of variation. CV=1 degenerates to a
// Poisson process.
type GammaProcess struct {
	Rate float64
	CV   float64
}

// String renders the process in the TSV arrival_process encoding of spec §6.
func (g GammaProcess) String() string {
	return fmt.Sprintf("GammaProcess(rate=%g,cv=%g)", g.Rate, g.CV)
}

// shapeScale returns the Gamma distribution's (shape, rate) parameters for
// the given mean arrival rate and coefficient of variation: for a Gamma
// interarrival time with CV c, shape = 1/c^2 and the distribution's own rate
// parameter is shape * arrivalRate.
func (g GammaProcess) shapeScale() (shape, distRate float64) {
	cv := g.CV
	if cv <= 0 {
		cv = 1
	}
	shape = 1 / (cv * cv)
	distRate = shape * g.Rate
	return shape, distRate
}

// Sample draws n interarrival gaps from the process using gen as the
// underlying Gamma generator (its Src supplies the randomness); gen's Alpha
// and Beta are overwritten with the process's own parameters.
func (g GammaProcess) Sample(n int, gen distuv.Gamma) []float64 {
	shape, distRate := g.shapeScale()
	gen.Alpha = shape
	gen.Beta = distRate
	out := make([]float64, n)
	for i := range out {
		out[i] = gen.Rand()
	}
	return out
}

// Limiter returns a token-bucket limiter paced at the process's mean rate,
// for throttling synthetic request generation. The evaluator does not use it.
func (g GammaProcess) Limiter(burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(g.Rate), burst)
}

// Workload is one Gamma arrival process per model, indexed the same way as
// the model_datas slice a planner was given.
type Workload struct {
	Processes []GammaProcess
}

// Generate implements gen_train_workload: a Gamma process per model with
// rate taken from the model's long-run request rate and a fixed coefficient
// of variation, matching the default training-workload generator spec §6
// delegates to when no workload is supplied.
func Generate(models []profile.ModelData, cv float64) Workload {
	if cv <= 0 {
		cv = 1
	}
	w := Workload{Processes: make([]GammaProcess, len(models))}
	for i, m := range models {
		w.Processes[i] = GammaProcess{Rate: m.Rate, CV: cv}
	}
	return w
}
