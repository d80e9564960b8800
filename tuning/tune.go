package tuning

import (
	"context"
	"time"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Config parameterizes Tune.
type Config struct {
	Family string
	// Grid falls back to DefaultGrid(Family) when empty.
	Grid         Grid
	Folds        int
	Scoring      string
	TestFraction float64
	Seed         uint64
	Workers      int
}

// Outcome is a tuned model evaluated on the holdout split.
type Outcome struct {
	Search      *Result
	Model       *learner.TrainedModel
	Record      evaluation.Record
	Split       model_selection.Split
	Predictions []evaluation.PredictionRow
}

// Tune splits ds 80/20, grid searches on the train part, refits the winner on
// it and scores the holdout.
func Tune(ctx context.Context, ds *dataset.GeneratorDataset, subset dataset.FeatureSubset, cfg Config, strategy string) (*Outcome, error) {
	family, err := learner.Canonical(cfg.Family)
	if err != nil {
		return nil, err
	}
	if cfg.TestFraction == 0 {
		cfg.TestFraction = 0.2
	}
	grid := cfg.Grid
	if len(grid) == 0 {
		grid = DefaultGrid(family)
	}
	split, err := model_selection.TrainTestSplit(ds.Len(), cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	train, test := ds.Subset(split.Train), ds.Subset(split.Test)
	X, y := train.Matrix(subset)

	gs := &GridSearch{Family: family, Grid: grid, Folds: cfg.Folds, Scoring: cfg.Scoring, Seed: cfg.Seed, Workers: cfg.Workers}
	res, err := gs.Run(ctx, X, y)
	if err != nil {
		return nil, errors.Wrapf(err, "%s grid search", family)
	}

	tm := &learner.TrainedModel{
		Family:    family,
		Params:    learner.Params(res.BestModel.GetParams()),
		Features:  append(dataset.FeatureSubset(nil), subset...),
		Model:     res.BestModel,
		TrainedAt: time.Now().UTC(),
	}
	pred, err := tm.PredictRows(test)
	if err != nil {
		return nil, err
	}
	_, yTest := test.Matrix(subset)
	rec, err := evaluation.Evaluate(ds.ID, strategy, yTest, pred)
	if err != nil {
		return nil, err
	}
	rec.NFeatures = len(subset)
	return &Outcome{
		Search:      res,
		Model:       tm,
		Record:      rec,
		Split:       split,
		Predictions: evaluation.Predictions(ds.ID, strategy, split.Test, yTest, pred),
	}, nil
}
