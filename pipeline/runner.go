// Package pipeline runs the per-generator training pipeline: eligibility
// gate, backward elimination, optional tuning, ensemble building and global
// strategy selection.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/config"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/notify"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/report"
	"github.com/YuminosukeSato/pvtrain/sink"
	"github.com/YuminosukeSato/pvtrain/telemetry"
	"golang.org/x/sync/errgroup"
)

// Strategy tags of the single-model records.
const (
	StrategyBase        = "base"
	StrategyElimination = "backward_elimination"
	StrategyTuned       = "tuned"
)

// Publisher receives run events.
type Publisher interface {
	PublishRun(ctx context.Context, s report.Summary) error
	PublishGenerator(ev notify.GeneratorEvent) error
}

// Runner executes one configured run.
type Runner struct {
	cfg       *config.Config
	store     artifact.Store
	rows      []dataset.Observation
	sinks     []sink.Sink
	publisher Publisher
	metrics   *telemetry.Metrics
	logger    log.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithStore sets the artifact store. Without it an in-memory store is used.
func WithStore(s artifact.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithRows supplies observations directly instead of reading data_path.
func WithRows(rows []dataset.Observation) Option {
	return func(r *Runner) { r.rows = rows }
}

func WithSinks(sinks ...sink.Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: log.GetLoggerWithName("pipeline")}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = artifact.NewMemoryStore()
	}
	if r.metrics == nil {
		r.metrics = telemetry.New()
	}
	return r
}

// Store returns the artifact store the runner writes to.
func (r *Runner) Store() artifact.Store { return r.store }

// datasets loads, partitions and cleans the observations. Every error here is
// fatal and happens before any output is written.
func (r *Runner) datasets() (map[string]*dataset.GeneratorDataset, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	rows := r.rows
	if rows == nil {
		var err error
		if rows, err = dataset.LoadCSV(r.cfg.DataPath, dataset.LoadOptions{}); err != nil {
			return nil, err
		}
	}
	policy, err := dataset.ParseMissingPolicy(r.cfg.MissingValues)
	if err != nil {
		return nil, errors.NewConfigError(err.Error())
	}
	parts := dataset.Partition(rows, policy)
	if len(parts) == 0 {
		return nil, errors.NewConfigError("no usable observations in " + r.cfg.DataPath)
	}
	if r.cfg.Outliers.IQR {
		for id, ds := range parts {
			parts[id] = dataset.RemoveOutliersIQR(ds, r.cfg.Outliers.K)
		}
	}
	return parts, nil
}

func (r *Runner) workers() int {
	if r.cfg.Workers < 1 {
		return runtime.NumCPU()
	}
	return r.cfg.Workers
}

// Run trains every generator and returns the run report. Per-generator
// failures are recorded in the report; only configuration errors, output
// errors and cancellation are returned.
func (r *Runner) Run(ctx context.Context) (*report.RunReport, error) {
	parts, err := r.datasets()
	if err != nil {
		return nil, err
	}

	rep := report.NewRunReport()
	logger := r.logger.With(log.RunIDKey, rep.RunID)
	logger.Info("run started", "generators", len(parts), "workers", r.workers())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for _, id := range dataset.SortedIDs(parts) {
		ds := parts[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			out := &generatorRun{runner: r, runID: rep.RunID, ds: ds, logger: logger.With(log.GeneratorKey, ds.ID)}
			err := errors.SafeExecute("pipeline.generator", func() error {
				return out.process(gctx)
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out.fail(err)
			}
			out.outcome.Duration = time.Since(start)

			mu.Lock()
			out.mergeInto(rep)
			mu.Unlock()

			r.metrics.GeneratorDone(out.outcome.State)
			if r.publisher != nil {
				if err := r.publisher.PublishGenerator(notify.GeneratorEvent{
					RunID: rep.RunID, GeneratorID: ds.ID, State: out.outcome.State, Failures: out.outcome.Failures,
				}); err != nil {
					logger.Warn("publish generator event failed", log.GeneratorKey, ds.ID, log.ErrAttrKey, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "run cancelled")
	}

	rep.Finish()
	if sel, err := evaluation.SelectGlobal(rep.Records); err == nil {
		rep.Selection = &sel
		logger.Info("global selection", log.StrategyKey, sel.Strategy)
	} else {
		rep.Warnings = append(rep.Warnings, err.Error())
		logger.Warn("no strategy selected", log.ErrAttrKey, err)
	}

	if err := r.export(ctx, rep, logger); err != nil {
		return rep, err
	}
	logger.Info("run finished",
		"evaluated", rep.Count(string(StateEvaluated)),
		"ineligible", rep.Count(string(StateIneligible)),
		"records", len(rep.Records),
		log.DurationMsKey, rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
	)
	return rep, nil
}

// export writes diagnostics, then notifies sinks and listeners. Only the
// diagnostics are fatal.
func (r *Runner) export(ctx context.Context, rep *report.RunReport, logger log.Logger) error {
	w, err := report.NewWriter(r.cfg.OutputDir)
	if err != nil {
		return err
	}
	if _, err := w.Write(rep); err != nil {
		return err
	}

	for _, s := range r.sinks {
		if err := s.WriteRecords(ctx, rep.RunID, rep.Records); err != nil {
			msg := s.Name() + " sink: " + err.Error()
			rep.Warnings = append(rep.Warnings, msg)
			logger.Warn("sink failed", "sink", s.Name(), log.ErrAttrKey, err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishRun(ctx, rep.Summary()); err != nil {
			rep.Warnings = append(rep.Warnings, "publish: "+err.Error())
			logger.Warn("publish run summary failed", log.ErrAttrKey, err)
		}
	}

	for _, rec := range rep.Records {
		r.metrics.ObserveRecord(rec)
	}
	r.metrics.RunFinished(rep.StartedAt, rep.FinishedAt)
	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			rep.Warnings = append(rep.Warnings, err.Error())
			logger.Warn("metrics export failed", log.ErrAttrKey, err)
		}
	}
	return nil
}

// Compare re-scores stored artifacts under tags on every eligible generator.
func (r *Runner) Compare(ctx context.Context, tags []string) (*evaluation.Comparison, error) {
	parts, err := r.datasets()
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]*dataset.GeneratorDataset, len(parts))
	for id, ds := range parts {
		if dataset.Eligible(ds, r.cfg.MinSamples) {
			eligible[id] = ds
		}
	}
	c := evaluation.NewComparator(tags, artifact.PredictorLoader(r.store))
	c.TestFraction = r.cfg.TestFraction
	c.Seed = r.cfg.Seed
	return c.Compare(ctx, eligible)
}
