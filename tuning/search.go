package tuning

import (
	"context"
	"math"
	"sort"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/core/parallel"
	"github.com/YuminosukeSato/pvtrain/learner"
	"github.com/YuminosukeSato/pvtrain/model_selection"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// ErrNoValidCandidate is returned when every candidate failed.
var ErrNoValidCandidate = errors.New("tuning: no valid candidate")

// GridSearch scores every grid candidate with k-fold cross-validation.
type GridSearch struct {
	Family string
	Grid   Grid
	// Folds is the number of CV folds, 3 when zero.
	Folds int
	// Scoring is "r2" (default) or "neg_rmse".
	Scoring string
	Seed    uint64
	// Workers bounds the candidates evaluated at once, every core when < 1.
	Workers int
}

// Candidate is one grid point and its cross-validation outcome.
type Candidate struct {
	Params     learner.Params
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	// Rank is 1 for the best candidate and 0 for failed ones.
	Rank int
	Err  error
}

// Result of a grid search.
type Result struct {
	BestParams learner.Params
	BestScore  float64
	BestIndex  int
	// BestModel is refit on all rows passed to Run.
	BestModel  learner.Estimator
	Candidates []Candidate
}

// Run evaluates the grid on X, y. Candidates run in parallel and folds within
// a candidate sequentially. A failing or panicking candidate keeps its error
// and is excluded from ranking.
func (g *GridSearch) Run(ctx context.Context, X mat.Matrix, y mat.Vector) (*Result, error) {
	family, err := learner.Canonical(g.Family)
	if err != nil {
		return nil, err
	}
	scorer, err := model_selection.Scoring(g.Scoring)
	if err != nil {
		return nil, err
	}
	folds := g.Folds
	if folds == 0 {
		folds = 3
	}
	if folds < 2 {
		return nil, errors.NewValidationError("cv_folds", "must be at least 2", folds)
	}
	if n, _ := X.Dims(); n < folds {
		return nil, errors.NewValidationError("cv_folds", "more folds than samples", folds)
	}

	grid := ExpandGrid(g.Grid)
	if len(grid) == 0 {
		return nil, errors.NewValidationError("param_grid", "grid has no candidates", g.Grid)
	}
	splitter := model_selection.NewKFold(folds, true, g.Seed)
	logger := log.GetLoggerWithName("tuning").With(log.ModelNameKey, family)
	logger.Debug("grid search started", "candidates", len(grid), "folds", folds)

	cands := make([]Candidate, len(grid))
	parallel.ForEach(len(grid), g.Workers, func(i int) {
		c := Candidate{Params: grid[i], MeanScore: math.NaN(), StdScore: math.NaN()}
		if err := ctx.Err(); err != nil {
			c.Err = err
			cands[i] = c
			return
		}
		params := grid[i]
		cv, err := model_selection.CrossValidate(func() (model.Regressor, error) {
			return learner.New(family, params)
		}, X, y, splitter, scorer)
		if err != nil {
			c.Err = err
			cands[i] = c
			return
		}
		c.FoldScores = cv.TestScores
		c.MeanScore = cv.Mean()
		c.StdScore = cv.Std()
		if math.IsNaN(c.MeanScore) {
			c.Err = errors.NewValueError("tuning", "score is NaN")
		}
		cands[i] = c
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valid := make([]int, 0, len(cands))
	for i, c := range cands {
		if c.Err == nil {
			valid = append(valid, i)
		} else {
			logger.Debug("candidate failed", "candidate", i, log.ErrAttrKey, c.Err.Error())
		}
	}
	if len(valid) == 0 {
		return &Result{Candidates: cands}, ErrNoValidCandidate
	}
	sort.SliceStable(valid, func(a, b int) bool {
		return cands[valid[a]].MeanScore > cands[valid[b]].MeanScore
	})
	for r, i := range valid {
		cands[i].Rank = r + 1
	}

	best := valid[0]
	est, err := learner.New(family, cands[best].Params)
	if err != nil {
		return nil, err
	}
	if err := errors.SafeExecute("tuning.refit", func() error { return est.Fit(X, y) }); err != nil {
		return nil, errors.NewModelError("tuning.refit", family, err)
	}
	logger.Info("grid search finished",
		"candidates", len(grid),
		"failed", len(grid)-len(valid),
		"best_score", cands[best].MeanScore,
	)
	return &Result{
		BestParams: cands[best].Params,
		BestScore:  cands[best].MeanScore,
		BestIndex:  best,
		BestModel:  est,
		Candidates: cands,
	}, nil
}
