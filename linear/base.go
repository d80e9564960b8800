// Package linear implements the linear regressors used as base and meta
// learners: ordinary least squares, ridge and elastic net (lasso included).
package linear

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/core/parallel"
	"github.com/YuminosukeSato/pvtrain/metrics"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// 予測を並列化する行数の閾値
const parallelThreshold = 1000

// Base は全ての線形モデルが共有する学習済み状態と予測処理
type Base struct {
	State        *model.StateManager
	Name         string
	FitIntercept bool

	Coef      []float64
	Intercept float64
	// FeatureStd は学習データの列ごとの標準偏差。重要度の計算に使う
	FeatureStd []float64
}

func newBase(name string) Base {
	return Base{State: model.NewStateManager(), Name: name, FitIntercept: true}
}

// Predict は y = X·coef + intercept を n×1 行列で返す
func (b *Base) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := b.State.CheckPredictInput(b.Name, c); err != nil {
		return nil, err
	}

	predictions := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			pred := b.Intercept
			for j := 0; j < c; j++ {
				pred += X.At(i, j) * b.Coef[j]
			}
			predictions.Set(i, 0, pred)
		}
	})
	return predictions, nil
}

// Coefficients は学習された重み（係数）のコピーを返す
func (b *Base) Coefficients() []float64 {
	return append([]float64(nil), b.Coef...)
}

// InterceptValue は学習された切片を返す
func (b *Base) InterceptValue() float64 {
	return b.Intercept
}

// IsFitted はモデルが学習済みかどうかを返す
func (b *Base) IsFitted() bool {
	return b.State.IsFitted()
}

// FeatureImportances は |coef_j|·std_j を合計1に正規化した値を返す。
// 標準化後の係数の大きさに相当する。
func (b *Base) FeatureImportances() ([]float64, error) {
	if err := b.State.RequireFitted(b.Name, "FeatureImportances"); err != nil {
		return nil, err
	}
	imp := make([]float64, len(b.Coef))
	var total float64
	for j, w := range b.Coef {
		imp[j] = math.Abs(w) * b.FeatureStd[j]
		total += imp[j]
	}
	if total > 0 {
		for j := range imp {
			imp[j] /= total
		}
	}
	return imp, nil
}

// Score はモデルの決定係数（R²）を計算する
func (b *Base) Score(X, y mat.Matrix) (float64, error) {
	yPred, err := b.Predict(X)
	if err != nil {
		return 0, err
	}
	yTrue, err := metrics.ColumnVector(b.Name+".Score", y)
	if err != nil {
		return 0, err
	}
	yHat, err := metrics.ColumnVector(b.Name+".Score", yPred)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yTrue, yHat)
}

// centered は切片ありの場合に X と y を列平均で中心化したコピーを返す
type centered struct {
	X     *mat.Dense
	y     *mat.VecDense
	xMean []float64
	yMean float64
	xStd  []float64
}

func (b *Base) prepare(op string, X, y mat.Matrix) (*centered, error) {
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return nil, errors.NewDimensionError(op, r, ry, 0)
	}
	if cy != 1 {
		return nil, errors.NewValueError(op, "y must be a column vector")
	}

	d := &centered{
		X:     mat.DenseCopyOf(X),
		y:     mat.NewVecDense(r, nil),
		xMean: make([]float64, c),
		xStd:  make([]float64, c),
	}
	for i := 0; i < r; i++ {
		d.y.SetVec(i, y.At(i, 0))
	}

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, d.X)
		d.xMean[j], d.xStd[j] = stat.PopMeanStdDev(col, nil)
	}
	if b.FitIntercept {
		d.yMean = stat.Mean(d.y.RawVector().Data, nil)
		d.X.Apply(func(_, j int, v float64) float64 { return v - d.xMean[j] }, d.X)
		for i := 0; i < r; i++ {
			d.y.SetVec(i, d.y.AtVec(i)-d.yMean)
		}
	}
	return d, nil
}

// finish は中心化されたデータ上の係数から切片を復元して学習済みにする
func (b *Base) finish(d *centered, coef []float64) error {
	if err := errors.CheckNumericalStability(b.Name+".Fit", coef, 0); err != nil {
		return err
	}
	b.Coef = coef
	b.FeatureStd = d.xStd
	b.Intercept = 0
	if b.FitIntercept {
		b.Intercept = d.yMean
		for j, w := range coef {
			b.Intercept -= d.xMean[j] * w
		}
	}
	r, c := d.X.Dims()
	b.State.SetFitted(c, r)
	return nil
}

func fitInterceptParam(b *Base, v interface{}) error {
	fit, err := model.BoolParam("fit_intercept", v)
	if err != nil {
		return err
	}
	b.FitIntercept = fit
	return nil
}
