package workload

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/khryptorgraphics/placementplanner/pkg/profile"
)

func TestGammaProcessString(t *testing.T) {
	g := GammaProcess{Rate: 2.5, CV: 1}
	assert.Equal(t, "GammaProcess(rate=2.5,cv=1)", g.String())
}

func TestGenerateRatesAndCV(t *testing.T) {
	models := []profile.ModelData{
		{Name: "a", Rate: 1.0},
		{Name: "b", Rate: 3.0},
	}
	w := Generate(models, 0.5)
	require.Len(t, w.Processes, 2)
	assert.Equal(t, 1.0, w.Processes[0].Rate)
	assert.Equal(t, 3.0, w.Processes[1].Rate)
	assert.Equal(t, 0.5, w.Processes[0].CV)
}

func TestGenerateDefaultsCVWhenNonPositive(t *testing.T) {
	models := []profile.ModelData{{Name: "a", Rate: 1.0}}
	w := Generate(models, 0)
	assert.Equal(t, 1.0, w.Processes[0].CV)
}

func TestSampleProducesNNonNegativeGaps(t *testing.T) {
	g := GammaProcess{Rate: 10, CV: 1}
	src := distuv.Gamma{Src: nil}
	gaps := g.Sample(50, src)
	require.Len(t, gaps, 50)
	for _, v := range gaps {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestLimiterBurstFloor(t *testing.T) {
	g := GammaProcess{Rate: 5, CV: 1}
	lim := g.Limiter(0)
	assert.Equal(t, 1, lim.Burst())
}

// TestSampleMeanApproachesRate checks that the Gamma sampler's empirical mean
// interarrival gap is close to 1/rate, for a range of rates and CVs.
func TestSampleMeanApproachesRate(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("sampled mean gap is within tolerance of 1/rate", prop.ForAll(
		func(rate, cv float64) bool {
			g := GammaProcess{Rate: rate, CV: cv}
			gaps := g.Sample(2000, distuv.Gamma{Src: nil})
			sum := 0.0
			for _, v := range gaps {
				sum += v
			}
			mean := sum / float64(len(gaps))
			want := 1 / rate
			return mean > want*0.5 && mean < want*1.5
		},
		gen.Float64Range(1, 20),
		gen.Float64Range(0.2, 3),
	))

	properties.TestingRun(t)
}
