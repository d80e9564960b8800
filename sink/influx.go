package sink

import (
	"context"
	"time"

	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the influx measurement written for each record.
const Measurement = "pv_evaluation"

// InfluxSink writes one point per record through the blocking write API.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSink connects to an InfluxDB 2 server.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{client: client, writer: client.WriteAPIBlocking(org, bucket)}
}

func (s *InfluxSink) Name() string { return "influx" }

// Points converts records to points stamped at ts.
func Points(runID string, records []evaluation.Record, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		points = append(points, influxdb2.NewPoint(Measurement,
			map[string]string{
				"run_id":    runID,
				"generator": rec.GeneratorID,
				"strategy":  rec.Strategy,
			},
			recordFields(rec),
			ts,
		))
	}
	return points
}

func (s *InfluxSink) WriteRecords(ctx context.Context, runID string, records []evaluation.Record) error {
	if len(records) == 0 {
		return nil
	}
	err := s.writer.WritePoint(ctx, Points(runID, records, time.Now().UTC())...)
	return errors.Wrap(err, "influx write")
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
