package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/combiner"
	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/report"
	"github.com/YuminosukeSato/pvtrain/selection"
	"github.com/YuminosukeSato/pvtrain/tuning"
)

// generatorRun holds everything one generator produces. It is owned by a
// single worker until mergeInto.
type generatorRun struct {
	runner *Runner
	runID  string
	ds     *dataset.GeneratorDataset
	logger log.Logger
	sm     *machine

	outcome     report.GeneratorOutcome
	records     []evaluation.Record
	predictions []evaluation.PredictionRow
	importances []evaluation.Importance
	trace       *report.Trace
}

func (g *generatorRun) process(ctx context.Context) error {
	cfg := g.runner.cfg
	g.outcome = report.GeneratorOutcome{GeneratorID: g.ds.ID, Samples: g.ds.Len()}
	g.sm = newMachine(dataset.Eligible(g.ds, cfg.MinSamples))
	defer func() { g.outcome.State = string(g.sm.state) }()

	if g.sm.state == StateIneligible {
		g.logger.Info("generator skipped", log.ErrAttrKey, errors.NewEligibilityError(g.ds.ID, g.ds.Len(), cfg.MinSamples))
		return nil
	}

	all := dataset.AllFeatures()
	g.branch(StrategyBase, "base", func() error { return g.single(ctx, StrategyBase, all) })
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.sm.advance(StateFeatureSelecting); err != nil {
		return err
	}
	subset := all
	g.branch(StrategyElimination, "elimination", func() error {
		final, err := g.eliminate(ctx, all)
		if err == nil {
			subset = final
		}
		return err
	})
	g.outcome.Features = subset
	if err := ctx.Err(); err != nil {
		return err
	}

	if cfg.Tuning.Enabled {
		g.branch(StrategyTuned, "tuning", func() error { return g.tune(ctx, subset) })
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if err := g.sm.advance(StateEnsembleBuilding); err != nil {
		return err
	}
	for _, s := range cfg.Ensembles.Strategies {
		kind, err := combiner.ParseKind(s)
		if err != nil {
			return err
		}
		g.branch(string(kind), "ensemble", func() error { return g.ensemble(ctx, kind, subset) })
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return g.sm.advance(StateEvaluated)
}

// branch runs one strategy behind the bulkhead. A failure is recorded and
// blocks only this strategy.
func (g *generatorRun) branch(strategy, stage string, fn func() error) {
	start := time.Now()
	err := errors.SafeExecute("pipeline."+stage, fn)
	g.runner.metrics.ObserveStage(stage, time.Since(start))
	if err == nil {
		return
	}
	failure := errors.NewFitFailure(g.ds.ID, strategy, stage, err)
	g.outcome.Failures = append(g.outcome.Failures, fmt.Sprintf("%s: %v", strategy, err))
	g.runner.metrics.StrategyFailed(strategy)
	g.logger.Error("strategy failed", failure, log.StrategyKey, strategy)
}

func (g *generatorRun) fail(err error) {
	g.outcome.GeneratorID = g.ds.ID
	g.outcome.State = string(StateFailed)
	g.outcome.Failures = append(g.outcome.Failures, err.Error())
	g.logger.Error("generator failed", err)
}

func (g *generatorRun) warn(msg string) {
	g.outcome.Warnings = append(g.outcome.Warnings, msg)
}

func (g *generatorRun) put(ctx context.Context, a *artifact.Artifact) error {
	if err := g.runner.store.Put(ctx, a.Key, a); err != nil {
		return errors.Wrapf(err, "store %s", a.Key)
	}
	g.logger.Debug("artifact stored", log.ArtifactKey, a.Key.String())
	return nil
}

// addModel evaluates tm on the test rows of split and records the result.
func (g *generatorRun) addModel(ctx context.Context, strategy string, tm *learner.TrainedModel, split model_selection.Split) error {
	test := g.ds.Subset(split.Test)
	pred, err := tm.PredictRows(test)
	if err != nil {
		return err
	}
	_, y := test.Matrix(tm.Features)
	rec, err := evaluation.Evaluate(g.ds.ID, strategy, y, pred)
	if err != nil {
		return err
	}
	rec.NFeatures = len(tm.Features)
	if err := g.put(ctx, artifact.NewModelArtifact(artifact.NewKey(g.ds.ID, strategy), tm, g.runID)); err != nil {
		return err
	}
	g.records = append(g.records, rec)
	g.predictions = append(g.predictions, evaluation.Predictions(g.ds.ID, strategy, split.Test, y, pred)...)
	if imp, ok := tm.Importances(); ok {
		g.importances = append(g.importances, importanceList(g.ds.ID, strategy, imp)...)
	}
	g.logger.Info("model evaluated", log.StrategyKey, strategy, log.R2ScoreKey, rec.R2, log.RMSEKey, rec.RMSE)
	return nil
}

func importanceList(generatorID, strategy string, imp map[string]float64) []evaluation.Importance {
	out := make([]evaluation.Importance, 0, len(imp))
	for f, v := range imp {
		out = append(out, evaluation.Importance{GeneratorID: generatorID, Strategy: strategy, Feature: f, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// single fits the elimination family on subset as a reference record.
func (g *generatorRun) single(ctx context.Context, strategy string, subset dataset.FeatureSubset) error {
	cfg := g.runner.cfg
	split, err := model_selection.TrainTestSplit(g.ds.Len(), cfg.TestFraction, cfg.Seed)
	if err != nil {
		return err
	}
	tm, err := learner.FitDataset(cfg.Elimination.Family, learner.Params(cfg.Elimination.Params), subset, g.ds.Subset(split.Train))
	if err != nil {
		return err
	}
	return g.addModel(ctx, strategy, tm, split)
}

func (g *generatorRun) selectorConfig() (selection.Config, error) {
	cfg := g.runner.cfg
	policy, err := selection.ParsePolicy(cfg.Elimination.Policy)
	if err != nil {
		return selection.Config{}, err
	}
	return selection.Config{
		Policy:              policy,
		Family:              cfg.Elimination.Family,
		Params:              learner.Params(cfg.Elimination.Params),
		Floor:               cfg.EliminationFloor,
		ImportanceThreshold: cfg.ImportanceThreshold,
		PermutationRepeats:  cfg.Elimination.PermutationRepeats,
		Significance:        cfg.Elimination.Significance,
		TestFraction:        cfg.TestFraction,
		Seed:                cfg.Seed,
		Workers:             cfg.Workers,
	}, nil
}

func (g *generatorRun) eliminate(ctx context.Context, features dataset.FeatureSubset) (dataset.FeatureSubset, error) {
	scfg, err := g.selectorConfig()
	if err != nil {
		return nil, err
	}
	var archive selection.StepArchiver
	if g.runner.cfg.Elimination.ArchiveSteps {
		archive = func(ctx context.Context, generatorID string, size int, tm *learner.TrainedModel) error {
			key := artifact.StepKey(generatorID, StrategyElimination, size)
			return g.put(ctx, artifact.NewModelArtifact(key, tm, g.runID))
		}
	}
	sel, err := selection.NewSelector(scfg, archive)
	if err != nil {
		return nil, err
	}
	res, err := sel.Run(ctx, g.ds, features)
	if err != nil {
		return nil, err
	}
	g.trace = &report.Trace{GeneratorID: g.ds.ID, Policy: string(res.Policy), Steps: res.Trace}
	if err := g.addModel(ctx, StrategyElimination, res.Model, res.Split); err != nil {
		return nil, err
	}
	g.logger.Info("features selected", log.FeatureNamesKey, []string(res.Final), "eliminated", res.Eliminated)
	return res.Final, nil
}

// gridFor returns the configured grid of family, matching aliases.
func (g *generatorRun) gridFor(family string) tuning.Grid {
	for name, grid := range g.runner.cfg.ParamGrid {
		if canonical, err := learner.Canonical(name); err == nil && canonical == family {
			return tuning.Grid(grid)
		}
	}
	return nil
}

func (g *generatorRun) tune(ctx context.Context, subset dataset.FeatureSubset) error {
	cfg := g.runner.cfg
	family, err := learner.Canonical(cfg.Tuning.Family)
	if err != nil {
		return err
	}
	out, err := tuning.Tune(ctx, g.ds, subset, tuning.Config{
		Family:       family,
		Grid:         g.gridFor(family),
		Folds:        cfg.CVFolds,
		Scoring:      cfg.Tuning.Scoring,
		TestFraction: cfg.TestFraction,
		Seed:         cfg.Seed,
		Workers:      cfg.Workers,
	}, StrategyTuned)
	if err != nil {
		return err
	}
	g.logger.Info("tuned", log.HyperParamsKey, out.Search.BestParams, log.CVScoreKey, out.Search.BestScore)
	return g.addModel(ctx, StrategyTuned, out.Model, out.Split)
}

func (g *generatorRun) ensemble(ctx context.Context, kind combiner.Kind, subset dataset.FeatureSubset) error {
	cfg := g.runner.cfg
	opts := combiner.Options{
		TestFraction:  cfg.TestFraction,
		BlendFraction: cfg.BlendFraction,
		Seed:          cfg.Seed,
		MetaFamily:    cfg.Ensembles.Meta.Family,
		MetaParams:    learner.Params(cfg.Ensembles.Meta.Params),
		Passthrough:   cfg.Ensembles.Passthrough,
		StackingFolds: cfg.Ensembles.StackingFolds,
		Loader:        artifact.ModelLoader(g.runner.store),
	}
	res, err := combiner.Build(ctx, kind, cfg.MemberSpecs(), g.ds, subset, opts)
	if res != nil {
		for _, w := range res.Warnings {
			g.warn(string(kind) + ": " + w)
		}
	}
	if errors.Is(err, combiner.ErrTooFewMembers) {
		g.warn(fmt.Sprintf("%s skipped: %v", kind, err))
		g.logger.Warn("ensemble skipped", log.StrategyKey, string(kind), log.ErrAttrKey, err)
		return nil
	}
	if err != nil {
		return err
	}
	if err := g.put(ctx, artifact.NewEnsembleArtifact(artifact.NewKey(g.ds.ID, string(kind)), res.Model, g.runID)); err != nil {
		return err
	}
	g.records = append(g.records, res.Record)
	g.predictions = append(g.predictions, res.Predictions...)
	g.importances = append(g.importances, res.Importances...)
	return nil
}

func (g *generatorRun) mergeInto(rep *report.RunReport) {
	rep.Generators = append(rep.Generators, g.outcome)
	rep.Records = append(rep.Records, g.records...)
	rep.Predictions = append(rep.Predictions, g.predictions...)
	rep.Importances = append(rep.Importances, g.importances...)
	if g.trace != nil {
		rep.Traces = append(rep.Traces, *g.trace)
	}
	for _, w := range g.outcome.Warnings {
		rep.Warnings = append(rep.Warnings, g.ds.ID+": "+w)
	}
}
