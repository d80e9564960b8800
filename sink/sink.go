// Package sink ships evaluation records to external stores after a run.
package sink

import (
	"context"
	"math"

	"github.com/YuminosukeSato/pvtrain/evaluation"
)

// Sink receives the records of one run. Failures are reported to the caller
// and never abort the run.
type Sink interface {
	Name() string
	WriteRecords(ctx context.Context, runID string, records []evaluation.Record) error
	Close() error
}

// recordFields maps the defined metrics of rec. Undefined metrics are left
// out because neither backend stores NaN usefully.
func recordFields(rec evaluation.Record) map[string]interface{} {
	fields := make(map[string]interface{}, len(evaluation.MetricNames)+2)
	m := rec.Metrics()
	for _, name := range evaluation.MetricNames {
		if v := m[name]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			fields[name] = v
		}
	}
	fields["n_test"] = rec.NTest
	fields["n_features"] = rec.NFeatures
	return fields
}
