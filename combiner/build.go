package combiner

import (
	"context"
	"fmt"
	"time"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// ErrTooFewMembers means fewer than two members could be fitted.
var ErrTooFewMembers = errors.New("combiner: ensemble needs at least 2 members")

// MemberSpec describes one base learner. When FromArtifact is set the member
// reuses the family, parameters and features of the model stored under that
// strategy tag, refit on the ensemble's own train split.
type MemberSpec struct {
	Name         string
	Family       string
	Params       learner.Params
	FromArtifact string
}

// DefaultMembers mirrors the random forest, boosted trees and linear trio.
func DefaultMembers() []MemberSpec {
	return []MemberSpec{
		{Name: "rf", Family: learner.RandomForest, Params: learner.Params{"n_estimators": 300, "random_state": 42}},
		{Name: "xgb", Family: learner.GradientBoosting, Params: learner.Params{
			"n_estimators":     300,
			"learning_rate":    0.07,
			"max_depth":        5,
			"subsample":        0.8,
			"colsample_bytree": 0.8,
			"random_state":     42,
		}},
		{Name: "lr", Family: learner.Linear},
	}
}

// ArtifactLoader returns the model stored for (generator, tag). Missing
// models match errors.ErrArtifactNotFound.
type ArtifactLoader func(ctx context.Context, generatorID, tag string) (*learner.TrainedModel, error)

// Options controls splits and the meta learner.
type Options struct {
	TestFraction  float64
	BlendFraction float64
	Seed          uint64
	MetaFamily    string
	MetaParams    learner.Params
	Passthrough   bool
	// StackingFolds > 1 trains the stacking meta learner on out-of-fold
	// member predictions instead of in-sample ones.
	StackingFolds int
	Loader        ArtifactLoader
}

// DefaultOptions returns 80/20 splits, 70/30 blending and a linear meta
// learner with passthrough.
func DefaultOptions() Options {
	return Options{
		TestFraction:  0.2,
		BlendFraction: 0.3,
		Seed:          42,
		MetaFamily:    learner.Linear,
		Passthrough:   true,
	}
}

// Result is a built ensemble with its holdout evaluation and diagnostics.
type Result struct {
	Model  *Ensemble
	Record evaluation.Record
	// Split.Test is the evaluation rows; for blending it is the blend split
	// the meta learner was fitted on.
	Split       model_selection.Split
	Predictions []evaluation.PredictionRow
	Importances []evaluation.Importance
	Warnings    []string
}

type builder struct {
	ctx    context.Context
	kind   Kind
	ds     *dataset.GeneratorDataset
	opts   Options
	res    *Result
	logger log.Logger
}

func (b *builder) warn(msg string, fields ...any) {
	b.res.Warnings = append(b.res.Warnings, msg)
	b.logger.Warn(msg, fields...)
}

// Build fits an ensemble of kind on ds restricted to subset and evaluates it.
// Members that cannot be loaded or fitted are dropped with a warning;
// ErrTooFewMembers is returned when fewer than two remain.
func Build(ctx context.Context, kind Kind, specs []MemberSpec, ds *dataset.GeneratorDataset, subset dataset.FeatureSubset, opts Options) (res *Result, err error) {
	defer errors.Recover(&err, "combiner.Build")

	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := subset.Validate(); err != nil {
		return nil, err
	}
	if opts.MetaFamily == "" {
		opts.MetaFamily = learner.Linear
	}
	frac := opts.TestFraction
	if kind == Blending {
		frac = opts.BlendFraction
	}
	split, err := model_selection.TrainTestSplit(ds.Len(), frac, opts.Seed)
	if err != nil {
		return nil, err
	}

	b := &builder{
		ctx:    ctx,
		kind:   kind,
		ds:     ds,
		opts:   opts,
		res:    &Result{Split: split},
		logger: log.GetLoggerWithName("combiner").With(log.GeneratorKey, ds.ID, log.StrategyKey, string(kind)),
	}
	train, test := ds.Subset(split.Train), ds.Subset(split.Test)

	resolved := b.resolve(specs, subset)
	ens := &Ensemble{Kind: kind, Features: unionFeatures(subset, resolved), Passthrough: opts.Passthrough && kind == Stacking}

	for _, m := range resolved {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tm, err := learner.FitDataset(m.family, m.params, m.features, train)
		if err != nil {
			b.warn(fmt.Sprintf("member %s failed to fit: %v", m.name, err), "member", m.name)
			continue
		}
		ens.Members = append(ens.Members, Member{Name: m.name, Model: tm})
	}
	if len(ens.Members) < 2 {
		return b.res, errors.Wrapf(ErrTooFewMembers, "%s: %d usable", kind, len(ens.Members))
	}

	if kind != Voting {
		ens.MetaFamily = opts.MetaFamily
		ens.MetaParams = opts.MetaParams
		metaData := train
		if kind == Blending {
			metaData = test
		}
		if err := b.fitMeta(ens, metaData, resolved); err != nil {
			return nil, err
		}
	}
	ens.TrainedAt = time.Now().UTC()

	X, y := test.Matrix(ens.Features)
	pred, err := ens.Predict(X)
	if err != nil {
		return nil, err
	}
	rec, err := evaluation.Evaluate(ds.ID, string(kind), y, pred)
	if err != nil {
		return nil, err
	}
	rec.NFeatures = len(ens.Features)

	b.res.Model = ens
	b.res.Record = rec
	b.res.Predictions = evaluation.Predictions(ds.ID, string(kind), split.Test, y, pred)
	b.res.Importances = importances(ds.ID, string(kind), ens)
	b.logger.Info("ensemble built",
		"members", len(ens.Members),
		log.R2ScoreKey, rec.R2,
		log.RMSEKey, rec.RMSE,
	)
	return b.res, nil
}

type resolvedMember struct {
	name     string
	family   string
	params   learner.Params
	features dataset.FeatureSubset
}

// resolve turns specs into concrete members, dropping unloadable artifacts.
func (b *builder) resolve(specs []MemberSpec, subset dataset.FeatureSubset) []resolvedMember {
	out := make([]resolvedMember, 0, len(specs))
	for i, s := range specs {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("member%d", i)
		}
		if s.FromArtifact == "" {
			out = append(out, resolvedMember{name: name, family: s.Family, params: s.Params, features: subset})
			continue
		}
		if b.opts.Loader == nil {
			b.warn(fmt.Sprintf("member %s: no artifact store to load %q from", name, s.FromArtifact), "member", name)
			continue
		}
		tm, err := b.opts.Loader(b.ctx, b.ds.ID, s.FromArtifact)
		if err != nil {
			if errors.Is(err, errors.ErrArtifactNotFound) {
				b.warn(fmt.Sprintf("member %s: artifact %q not found", name, s.FromArtifact), "member", name)
			} else {
				b.warn(fmt.Sprintf("member %s: load %q: %v", name, s.FromArtifact, err), "member", name)
			}
			continue
		}
		params := tm.Params.Merge(s.Params)
		out = append(out, resolvedMember{name: name, family: tm.Family, params: params, features: tm.Features})
	}
	return out
}

func unionFeatures(subset dataset.FeatureSubset, members []resolvedMember) dataset.FeatureSubset {
	names := append([]string(nil), subset...)
	for _, m := range members {
		names = append(names, m.features...)
	}
	out, err := dataset.NewFeatureSubset(names...)
	if err != nil {
		panic(err)
	}
	return out
}

// fitMeta trains the meta learner on member predictions over data.
func (b *builder) fitMeta(ens *Ensemble, data *dataset.GeneratorDataset, members []resolvedMember) error {
	X, y := data.Matrix(ens.Features)
	var preds *mat.Dense
	var err error
	if b.kind == Stacking && b.opts.StackingFolds > 1 {
		preds, err = b.outOfFold(ens, data, members)
	} else {
		preds, err = ens.memberPredictions(X)
	}
	if err != nil {
		return err
	}

	meta, err := learner.New(ens.MetaFamily, ens.MetaParams)
	if err != nil {
		return err
	}
	if err := meta.Fit(ens.metaInput(X, preds), y); err != nil {
		return errors.NewModelError("combiner.fitMeta", ens.MetaFamily, err)
	}
	ens.Meta = meta
	return nil
}

// outOfFold predicts every train row with member clones fitted on the other
// folds.
func (b *builder) outOfFold(ens *Ensemble, data *dataset.GeneratorDataset, members []resolvedMember) (*mat.Dense, error) {
	byName := make(map[string]resolvedMember, len(members))
	for _, m := range members {
		byName[m.name] = m
	}
	n := data.Len()
	folds := model_selection.NewKFold(b.opts.StackingFolds, true, b.opts.Seed).Split(n)
	out := mat.NewDense(n, len(ens.Members), nil)
	for k, mem := range ens.Members {
		spec := byName[mem.Name]
		for _, f := range folds {
			tm, err := learner.FitDataset(spec.family, spec.params, spec.features, data.Subset(f.TrainIndices))
			if err != nil {
				return nil, errors.Wrapf(err, "member %s out-of-fold", mem.Name)
			}
			pred, err := tm.PredictRows(data.Subset(f.TestIndices))
			if err != nil {
				return nil, err
			}
			for i, row := range f.TestIndices {
				out.Set(row, k, pred.AtVec(i))
			}
		}
	}
	return out, nil
}

// importances come from the gradient boosted member when there is one,
// otherwise from the first member that reports them.
func importances(gen, strategy string, ens *Ensemble) []evaluation.Importance {
	ordered := make([]Member, 0, len(ens.Members))
	for _, m := range ens.Members {
		if m.Model.Family == learner.GradientBoosting {
			ordered = append(ordered, m)
		}
	}
	ordered = append(ordered, ens.Members...)

	for _, m := range ordered {
		imp, ok := m.Model.Importances()
		if !ok {
			continue
		}
		out := make([]evaluation.Importance, 0, len(imp))
		for _, f := range m.Model.Features {
			out = append(out, evaluation.Importance{GeneratorID: gen, Strategy: strategy, Feature: f, Importance: imp[f]})
		}
		return out
	}
	return nil
}
