package evaluation

import (
	"context"
	"fmt"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// RowPredictor is any stored model that can score a generator dataset.
type RowPredictor interface {
	PredictRows(ds *dataset.GeneratorDataset) (*mat.VecDense, error)
}

// Loader fetches the model stored for (generator, tag). A missing model is
// reported with an error matching errors.ErrArtifactNotFound.
type Loader func(ctx context.Context, generatorID, tag string) (RowPredictor, error)

// Comparator re-scores previously stored models on a shared holdout split.
type Comparator struct {
	Tags         []string
	Load         Loader
	TestFraction float64
	Seed         uint64
	// MinLoaded is the number of tags that must load for a generator to be
	// compared, 2 when zero.
	MinLoaded int

	logger log.Logger
}

// NewComparator creates a comparator with the default 80/20 split.
func NewComparator(tags []string, load Loader) *Comparator {
	return &Comparator{
		Tags:         tags,
		Load:         load,
		TestFraction: 0.2,
		Seed:         42,
		MinLoaded:    2,
		logger:       log.GetLoggerWithName("evaluation.comparator"),
	}
}

// Comparison is the outcome of Compare.
type Comparison struct {
	Records   []Record
	Selection Selection
	Warnings  []string
}

// Compare evaluates every tag on every generator in sorted id order.
// Generators with fewer than MinLoaded models are skipped with a warning.
func (c *Comparator) Compare(ctx context.Context, datasets map[string]*dataset.GeneratorDataset) (*Comparison, error) {
	if c.logger == nil {
		c.logger = log.GetLoggerWithName("evaluation.comparator")
	}
	minLoaded := c.MinLoaded
	if minLoaded <= 0 {
		minLoaded = 2
	}

	out := &Comparison{}
	warn := func(msg string, fields ...any) {
		out.Warnings = append(out.Warnings, msg)
		c.logger.Warn(msg, fields...)
	}

	for _, id := range dataset.SortedIDs(datasets) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds := datasets[id]
		split, err := model_selection.TrainTestSplit(ds.Len(), c.TestFraction, c.Seed)
		if err != nil {
			warn(fmt.Sprintf("%s: %v", id, err), log.GeneratorKey, id)
			continue
		}
		test := ds.Subset(split.Test)
		y := mat.NewVecDense(test.Len(), test.Targets())

		var recs []Record
		for _, tag := range c.Tags {
			m, err := c.Load(ctx, id, tag)
			if err != nil {
				if errors.Is(err, errors.ErrArtifactNotFound) {
					warn(fmt.Sprintf("%s/%s: no stored model", id, tag), log.GeneratorKey, id, log.StrategyKey, tag)
				} else {
					warn(fmt.Sprintf("%s/%s: load failed: %v", id, tag, err), log.GeneratorKey, id, log.StrategyKey, tag)
				}
				continue
			}
			pred, err := errors.SafeCall("comparator.predict", func() (*mat.VecDense, error) {
				return m.PredictRows(test)
			})
			if err != nil {
				warn(fmt.Sprintf("%s/%s: predict failed: %v", id, tag, err), log.GeneratorKey, id, log.StrategyKey, tag)
				continue
			}
			rec, err := Evaluate(id, tag, y, pred)
			if err != nil {
				warn(fmt.Sprintf("%s/%s: %v", id, tag, err), log.GeneratorKey, id, log.StrategyKey, tag)
				continue
			}
			recs = append(recs, rec)
		}
		if len(recs) < minLoaded {
			warn(fmt.Sprintf("%s: only %d of %d models loaded, skipped", id, len(recs), len(c.Tags)), log.GeneratorKey, id)
			continue
		}
		out.Records = append(out.Records, recs...)
	}

	sel, err := SelectGlobal(out.Records)
	if err != nil {
		return out, err
	}
	out.Selection = sel
	c.logger.Info("comparison finished", "selected", sel.Strategy, "records", len(out.Records))
	return out, nil
}
