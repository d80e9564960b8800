package model_selection

import (
	"math"
	"time"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scorer rates predictions, higher is better.
type Scorer func(yTrue, yPred mat.Vector) (float64, error)

// Scoring resolves a scikit-learn scoring name.
func Scoring(name string) (Scorer, error) {
	switch name {
	case "r2", "":
		return metrics.R2Score, nil
	case "neg_rmse", "neg_root_mean_squared_error":
		return negate(metrics.RMSE), nil
	case "neg_mae", "neg_mean_absolute_error":
		return negate(metrics.MAE), nil
	case "neg_mse", "neg_mean_squared_error":
		return negate(metrics.MSE), nil
	}
	return nil, errors.NewValidationError("scoring", "unknown scoring", name)
}

func negate(m func(a, b mat.Vector) (float64, error)) Scorer {
	return func(a, b mat.Vector) (float64, error) {
		v, err := m(a, b)
		return -v, err
	}
}

// CVResult stores cross-validation results
type CVResult struct {
	TestScores []float64
	FitTimes   []time.Duration
}

// Mean returns the mean test score.
func (cv *CVResult) Mean() float64 {
	if len(cv.TestScores) == 0 {
		return math.NaN()
	}
	return stat.Mean(cv.TestScores, nil)
}

// Std returns the population standard deviation of the test scores, as
// scikit-learn reports std_test_score.
func (cv *CVResult) Std() float64 {
	if len(cv.TestScores) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(cv.TestScores, nil)
	return std
}

// CrossValidate fits a fresh model from newModel on every fold's train rows
// and scores it on the fold's test rows. Folds run sequentially; the first
// failing fold aborts with its error, panics included.
func CrossValidate(newModel func() (model.Regressor, error), X mat.Matrix, y mat.Vector, splitter Splitter, scorer Scorer) (*CVResult, error) {
	n, _ := X.Dims()
	if y.Len() != n {
		return nil, errors.NewDimensionError("CrossValidate", n, y.Len(), 0)
	}
	folds := splitter.Split(n)
	result := &CVResult{
		TestScores: make([]float64, 0, len(folds)),
		FitTimes:   make([]time.Duration, 0, len(folds)),
	}

	for i, fold := range folds {
		if len(fold.TrainIndices) == 0 || len(fold.TestIndices) == 0 {
			return nil, errors.NewValueError("CrossValidate", "empty fold")
		}
		score, elapsed, err := runFold(newModel, X, y, fold, scorer)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", i)
		}
		result.TestScores = append(result.TestScores, score)
		result.FitTimes = append(result.FitTimes, elapsed)
	}
	return result, nil
}

func runFold(newModel func() (model.Regressor, error), X mat.Matrix, y mat.Vector, fold CVFold, scorer Scorer) (score float64, elapsed time.Duration, err error) {
	defer errors.Recover(&err, "CrossValidate.fold")

	m, err := newModel()
	if err != nil {
		return 0, 0, err
	}
	trainX, trainY := Subset(X, y, fold.TrainIndices)
	testX, testY := Subset(X, y, fold.TestIndices)

	start := time.Now()
	if err := m.Fit(trainX, trainY); err != nil {
		return 0, 0, err
	}
	elapsed = time.Since(start)

	pred, err := m.Predict(testX)
	if err != nil {
		return 0, 0, err
	}
	yPred, err := metrics.ColumnVector("CrossValidate", pred)
	if err != nil {
		return 0, 0, err
	}
	score, err = scorer(testY, yPred)
	return score, elapsed, err
}
