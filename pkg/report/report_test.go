package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTSVIncludesHeader(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTSV(&buf, []Row{{PolicyName: "ilp", SLO: 1.5, Goodput: 0.9, ArrivalProcess: "GammaProcess(rate=1,cv=1)"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "policy_name\tslo\tgoodput\tarrival_process\n"))
}

func TestParseTSVEmptyInputIsNilRows(t *testing.T) {
	rows, err := ParseTSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	rows := []Row{
		{PolicyName: "ilp", SLO: 1.0, Goodput: 0.95, ArrivalProcess: "GammaProcess(rate=10,cv=1)"},
		{PolicyName: "greedy", SLO: 2.5, Goodput: 0.5, ArrivalProcess: "GammaProcess(rate=5,cv=0.5)"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, rows))

	got, err := ParseTSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

// TestRoundTripProperty checks spec §8's round-trip property: writing then
// parsing an arbitrary set of rows reproduces the original values.
func TestRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	rowGen := gopter.CombineGens(
		gen.AlphaString(),
		gen.Float64Range(0.01, 100),
		gen.Float64Range(0, 1),
		gen.AlphaString(),
	).Map(func(vs []interface{}) Row {
		return Row{
			PolicyName:     vs[0].(string),
			SLO:            vs[1].(float64),
			Goodput:        vs[2].(float64),
			ArrivalProcess: vs[3].(string),
		}
	})

	properties.Property("write then parse reproduces the original rows", prop.ForAll(
		func(rows []Row) bool {
			var buf bytes.Buffer
			if err := WriteTSV(&buf, rows); err != nil {
				return false
			}
			got, err := ParseTSV(&buf)
			if err != nil {
				return false
			}
			if len(rows) == 0 {
				return len(got) == 0
			}
			if len(got) != len(rows) {
				return false
			}
			for i := range rows {
				if got[i] != rows[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(rowGen),
	))

	properties.TestingRun(t)
}
