// Package selection reduces a generator's feature set by backward
// elimination under one of several stopping policies.
package selection

import (
	"context"
	"math"

	"github.com/YuminosukeSato/pvtrain/dataset"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/linear"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/preprocessing"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Policy is the stopping rule of the elimination loop.
type Policy string

const (
	// ImportanceThreshold drops the least important feature while its model
	// importance is below the threshold.
	ImportanceThreshold Policy = "importance_threshold"
	// PerformanceMonitored drops the feature with the lowest permutation
	// importance and keeps the drop only if holdout RMSE improves.
	PerformanceMonitored Policy = "performance_monitored"
	// FullTrace eliminates down to the floor and keeps the subset with the
	// best holdout R2.
	FullTrace Policy = "full_trace"
	// PValue drops the least significant OLS coefficient.
	PValue Policy = "pvalue"
)

// ParsePolicy validates a policy name; empty means ImportanceThreshold.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return ImportanceThreshold, nil
	case ImportanceThreshold, PerformanceMonitored, FullTrace, PValue:
		return p, nil
	}
	return "", errors.NewValidationError("elimination.policy", "unknown elimination policy", s)
}

// Config parameterizes a Selector.
type Config struct {
	Policy              Policy
	Family              string
	Params              learner.Params
	Floor               int
	ImportanceThreshold float64
	PermutationRepeats  int
	Significance        float64
	TestFraction        float64
	Seed                uint64
	Workers             int
}

// DefaultConfig returns the importance threshold policy over random forests.
func DefaultConfig() Config {
	return Config{
		Policy:              ImportanceThreshold,
		Family:              learner.RandomForest,
		Floor:               3,
		ImportanceThreshold: 0.01,
		PermutationRepeats:  5,
		Significance:        0.05,
		TestFraction:        0.2,
		Seed:                42,
	}
}

// Step is one fitted subset of the elimination trace.
type Step struct {
	// Index counts fitted steps from 1.
	Index      int
	SubsetSize int
	// Dropped is the feature removed from the previous step's subset, empty
	// on the first step.
	Dropped   string
	Remaining dataset.FeatureSubset
	R2        float64
	RMSE      float64
	// BestRMSE is the lowest RMSE among accepted steps so far.
	BestRMSE    float64
	Accepted    bool
	Importances map[string]float64
	// PValues is set by the pvalue policy.
	PValues map[string]float64
}

// Result is the outcome of one elimination run.
type Result struct {
	Policy     Policy
	Trace      []Step
	Final      dataset.FeatureSubset
	Eliminated []string
	Model      *learner.TrainedModel
	// StepModels holds every fitted model keyed by subset size.
	StepModels map[int]*learner.TrainedModel
	Split      model_selection.Split
}

// StepArchiver persists a step model, keyed by generator and subset size.
type StepArchiver func(ctx context.Context, generatorID string, subsetSize int, tm *learner.TrainedModel) error

// Selector runs backward elimination for one generator at a time. It is safe
// for concurrent use.
type Selector struct {
	cfg     Config
	archive StepArchiver
	logger  log.Logger
}

// NewSelector validates cfg. archive may be nil.
func NewSelector(cfg Config, archive StepArchiver) (*Selector, error) {
	if cfg.Floor < 1 {
		return nil, errors.NewValidationError("elimination_floor", "must be at least 1", cfg.Floor)
	}
	if _, err := ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if _, err := learner.Canonical(cfg.Family); err != nil {
		return nil, err
	}
	if cfg.PermutationRepeats < 1 {
		cfg.PermutationRepeats = 5
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	return &Selector{
		cfg:     cfg,
		archive: archive,
		logger:  log.GetLoggerWithName("selection"),
	}, nil
}

// Config returns the effective configuration.
func (s *Selector) Config() Config { return s.cfg }

type run struct {
	*Selector
	ctx    context.Context
	gen    string
	train  *dataset.GeneratorDataset
	test   *dataset.GeneratorDataset
	res    *Result
	logger log.Logger
}

// Run eliminates features from features on ds. The holdout split is fixed
// for the whole run.
func (s *Selector) Run(ctx context.Context, ds *dataset.GeneratorDataset, features dataset.FeatureSubset) (*Result, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	split, err := model_selection.TrainTestSplit(ds.Len(), s.cfg.TestFraction, s.cfg.Seed)
	if err != nil {
		return nil, err
	}
	r := &run{
		Selector: s,
		ctx:      ctx,
		gen:      ds.ID,
		train:    ds.Subset(split.Train),
		test:     ds.Subset(split.Test),
		res: &Result{
			Policy:     s.cfg.Policy,
			StepModels: make(map[int]*learner.TrainedModel),
			Split:      split,
		},
		logger: s.logger.With(log.GeneratorKey, ds.ID, log.OperationKey, string(s.cfg.Policy)),
	}

	switch s.cfg.Policy {
	case ImportanceThreshold, "":
		r.res.Policy = ImportanceThreshold
		err = r.importanceThreshold(features)
	case PerformanceMonitored:
		err = r.performanceMonitored(features)
	case FullTrace:
		err = r.fullTrace(features)
	case PValue:
		err = r.pvalue(features)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("backward elimination finished",
		log.FeatureNamesKey, r.res.Final.String(),
		log.FeaturesKey, len(r.res.Final),
		"steps", len(r.res.Trace),
	)
	return r.res, nil
}

// evaluate fits the configured family on subset and scores it on the holdout.
func (r *run) evaluate(subset dataset.FeatureSubset) (*learner.TrainedModel, float64, float64, error) {
	if len(subset) == 0 {
		panic("selection: empty feature subset")
	}
	if err := r.ctx.Err(); err != nil {
		return nil, 0, 0, err
	}
	tm, err := learner.FitDataset(r.cfg.Family, r.cfg.Params, subset, r.train)
	if err != nil {
		return nil, 0, 0, err
	}
	pred, err := tm.PredictRows(r.test)
	if err != nil {
		return nil, 0, 0, err
	}
	y := mat.NewVecDense(r.test.Len(), r.test.Targets())
	r2, err := metrics.R2Score(y, pred)
	if err != nil {
		return nil, 0, 0, err
	}
	rmse, err := metrics.RMSE(y, pred)
	if err != nil {
		return nil, 0, 0, err
	}

	r.res.StepModels[len(subset)] = tm
	if r.archive != nil {
		if err := r.archive(r.ctx, r.gen, len(subset), tm); err != nil {
			return nil, 0, 0, errors.Wrapf(err, "archive step %d", len(subset))
		}
	}
	return tm, r2, rmse, nil
}

func (r *run) record(st Step) Step {
	st.Index = len(r.res.Trace) + 1
	st.SubsetSize = len(st.Remaining)
	r.res.Trace = append(r.res.Trace, st)
	r.logger.Debug("elimination step",
		log.StepKey, st.SubsetSize,
		log.DroppedFeatureKey, st.Dropped,
		log.R2ScoreKey, st.R2,
		log.RMSEKey, st.RMSE,
		"accepted", st.Accepted,
	)
	return st
}

func (r *run) drop(name string) {
	r.res.Eliminated = append(r.res.Eliminated, name)
}

// argmin returns the feature with the lowest score, the first in subset order
// on ties.
func argmin(subset dataset.FeatureSubset, scores []float64) (string, float64) {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[best] {
			best = i
		}
	}
	return subset[best], scores[best]
}

func modelImportances(tm *learner.TrainedModel) ([]float64, map[string]float64, error) {
	m, ok := tm.Importances()
	if !ok {
		return nil, nil, errors.NewValueError("selection", "learner family "+tm.Family+" reports no feature importances")
	}
	v := make([]float64, len(tm.Features))
	for i, name := range tm.Features {
		v[i] = m[name]
	}
	return v, m, nil
}

func (r *run) importanceThreshold(features dataset.FeatureSubset) error {
	current := features
	best := math.Inf(1)
	dropped := ""
	for {
		tm, r2, rmse, err := r.evaluate(current)
		if err != nil {
			return err
		}
		imp, impMap, err := modelImportances(tm)
		if err != nil {
			return err
		}
		best = math.Min(best, rmse)
		r.record(Step{Dropped: dropped, Remaining: current, R2: r2, RMSE: rmse, BestRMSE: best, Accepted: true, Importances: impMap})
		r.res.Final, r.res.Model = current, tm

		name, v := argmin(current, imp)
		if v >= r.cfg.ImportanceThreshold || len(current) <= r.cfg.Floor {
			return nil
		}
		r.drop(name)
		dropped = name
		current = current.Without(name)
	}
}

func (r *run) performanceMonitored(features dataset.FeatureSubset) error {
	current := features
	tm, r2, rmse, err := r.evaluate(current)
	if err != nil {
		return err
	}
	best := rmse
	_, impMap, _ := modelImportances(tm)
	r.record(Step{Remaining: current, R2: r2, RMSE: rmse, BestRMSE: best, Accepted: true, Importances: impMap})
	r.res.Final, r.res.Model = current, tm

	Xtest, ytest := r.test.Matrix(current)
	for len(current) > r.cfg.Floor {
		perm, err := PermutationImportance(r.res.Model, Xtest, ytest, r.cfg.PermutationRepeats, r.cfg.Seed, r.cfg.Workers)
		if err != nil {
			return err
		}
		name, _ := argmin(current, perm.Mean)
		trial := current.Without(name)

		cand, r2, rmse, err := r.evaluate(trial)
		if err != nil {
			return err
		}
		accepted := rmse < best
		if accepted {
			best = rmse
		}
		permMap := make(map[string]float64, len(current))
		for i, f := range current {
			permMap[f] = perm.Mean[i]
		}
		r.record(Step{Dropped: name, Remaining: trial, R2: r2, RMSE: rmse, BestRMSE: best, Accepted: accepted, Importances: permMap})
		if !accepted {
			return nil
		}
		r.drop(name)
		current = trial
		r.res.Final, r.res.Model = current, cand
		Xtest, ytest = r.test.Matrix(current)
	}
	return nil
}

func (r *run) fullTrace(features dataset.FeatureSubset) error {
	current := features
	best := math.Inf(1)
	bestR2 := math.Inf(-1)
	chosen := -1
	dropped := ""
	for {
		tm, r2, rmse, err := r.evaluate(current)
		if err != nil {
			return err
		}
		imp, impMap, err := modelImportances(tm)
		if err != nil {
			return err
		}
		best = math.Min(best, rmse)
		st := r.record(Step{Dropped: dropped, Remaining: current, R2: r2, RMSE: rmse, BestRMSE: best, Importances: impMap})
		if r2 > bestR2 || chosen < 0 {
			bestR2, chosen = r2, st.Index-1
			r.res.Final, r.res.Model = current, tm
		}
		if len(current) <= r.cfg.Floor {
			break
		}
		name, _ := argmin(current, imp)
		r.drop(name)
		dropped = name
		current = current.Without(name)
	}
	r.res.Trace[chosen].Accepted = true
	return nil
}

func (r *run) pvalue(features dataset.FeatureSubset) error {
	current := features
	best := math.Inf(1)
	dropped := ""
	for {
		tm, r2, rmse, err := r.evaluate(current)
		if err != nil {
			return err
		}
		imp, impMap, _ := modelImportances(tm)
		pvals, err := r.olsPValues(current)
		if err != nil {
			return err
		}
		pmap := make(map[string]float64, len(current))
		for i, f := range current {
			pmap[f] = pvals[i]
		}
		best = math.Min(best, rmse)
		r.record(Step{Dropped: dropped, Remaining: current, R2: r2, RMSE: rmse, BestRMSE: best, Accepted: true, Importances: impMap, PValues: pmap})
		r.res.Final, r.res.Model = current, tm

		if len(current) <= r.cfg.Floor {
			return nil
		}
		worst := 0
		for i := 1; i < len(pvals); i++ {
			switch {
			case pvals[i] > pvals[worst]:
				worst = i
			case pvals[i] == pvals[worst] && imp != nil && imp[i] < imp[worst]:
				worst = i
			}
		}
		if !(pvals[worst] > r.cfg.Significance) {
			return nil
		}
		dropped = current[worst]
		r.drop(dropped)
		current = current.Without(dropped)
	}
}

// olsPValues standardizes the training columns and returns the two-sided
// coefficient p-values. Constant columns are left out of the fit and, like
// undefined p-values, count as 1. With fewer than len(subset)+2 training rows
// the OLS has no residual degrees of freedom and every p-value is 1, so the
// caller falls back to dropping the least important feature.
func (r *run) olsPValues(subset dataset.FeatureSubset) ([]float64, error) {
	X, y := r.train.Matrix(subset)
	scaled, err := preprocessing.NewStandardScalerDefault().FitTransform(X)
	if err != nil {
		return nil, err
	}
	n, c := scaled.Dims()
	var keep []int
	for j := 0; j < c; j++ {
		if floats.Max(mat.Col(nil, j, scaled)) != floats.Min(mat.Col(nil, j, scaled)) {
			keep = append(keep, j)
		}
	}

	p := make([]float64, c)
	for j := range p {
		p[j] = 1
	}
	if len(keep) == 0 || n-len(keep)-1 < 1 {
		return p, nil
	}
	design := mat.NewDense(n, len(keep), nil)
	for k, j := range keep {
		design.SetCol(k, mat.Col(nil, j, scaled))
	}
	sum, err := linear.OLS(design, y)
	if err != nil {
		return nil, err
	}
	for k, j := range keep {
		if v := sum.PValues[k]; !math.IsNaN(v) {
			p[j] = v
		}
	}
	return p, nil
}
