// Package report reads and writes the tab-separated placement evaluation
// reports exchanged between planning runs (spec §6). No TSV/CSV library
// appears anywhere in the reference corpus, so this package is one of the
// few built directly on the standard library's encoding/csv with a tab
// delimiter.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Row is one evaluated policy run: a planner's name, the SLO it was
// configured with, the goodput it achieved, and the arrival process
// description it was evaluated against (e.g. "GammaProcess(rate=10,cv=1)",
// matching workload.GammaProcess.String()).
type Row struct {
	PolicyName     string
	SLO            float64
	Goodput        float64
	ArrivalProcess string
}

var header = []string{"policy_name", "slo", "goodput", "arrival_process"}

// WriteTSV writes rows as a tab-separated table with a header row.
func WriteTSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.PolicyName,
			strconv.FormatFloat(r.SLO, 'g', -1, 64),
			strconv.FormatFloat(r.Goodput, 'g', -1, 64),
			r.ArrivalProcess,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: write row %q: %w", r.PolicyName, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseTSV reads back a table written by WriteTSV. Round-tripping a slice of
// Rows through WriteTSV then ParseTSV reproduces the original values
// (spec §8 testable property).
func ParseTSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = len(header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("report: parse: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		slo, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("report: parse slo %q: %w", rec[1], err)
		}
		goodput, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("report: parse goodput %q: %w", rec[2], err)
		}
		rows = append(rows, Row{
			PolicyName:     rec[0],
			SLO:            slo,
			Goodput:        goodput,
			ArrivalProcess: rec[3],
		})
	}
	return rows, nil
}
