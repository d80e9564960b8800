package metrics

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func checkPair(op string, yTrue, yPred mat.Vector) (int, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// MSEMatrix は n×1 行列の入力に対してMSEを計算する
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	a, err := ColumnVector("MSEMatrix", yTrue)
	if err != nil {
		return 0, err
	}
	b, err := ColumnVector("MSEMatrix", yPred)
	if err != nil {
		return 0, err
	}
	return MSE(a, b)
}

// ColumnVector views an n×1 matrix as a vector. Learners return predictions
// as matrices, metrics work on vectors.
func ColumnVector(op string, m mat.Matrix) (*mat.VecDense, error) {
	if v, ok := m.(*mat.VecDense); ok {
		return v, nil
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	if c != 1 {
		return nil, errors.NewValueError(op, "must be a column vector (n×1 matrix)")
	}
	if d, ok := m.(*mat.Dense); ok {
		return mat.VecDenseCopyOf(d.ColView(0)), nil
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v, nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred mat.Vector) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// R2Score は決定係数（R²）を計算する。
//
// yTrue が定数の場合は scikit-learn と同じく、予測が完全一致なら 1、
// そうでなければ 0 を返す。
func R2Score(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yTrue.AtVec(i)
	}
	yMean /= float64(n)

	var tss, rss float64
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		d := t - yPred.AtVec(i)
		tss += (t - yMean) * (t - yMean)
		rss += d * d
	}

	if tss == 0 {
		if rss == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - rss/tss, nil
}

// MAPE は平均絶対パーセンテージ誤差（%）を計算する。
//
// yTrue がゼロの行は未定義として平均から除外する。全行がゼロの場合は NaN を返し、
// UndefinedMetricWarning を発行する。
func MAPE(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("MAPE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	valid := 0
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		if t == 0 {
			continue
		}
		sum += math.Abs(t-yPred.AtVec(i)) / math.Abs(t)
		valid++
	}

	if valid == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("mape", "all true values being zero", math.NaN()))
		return math.NaN(), nil
	}
	return sum / float64(valid) * 100, nil
}

// NRMSEMean は平均で正規化した RMSE（RMSE / mean(yTrue)）を返す。
func NRMSEMean(yTrue, yPred mat.Vector) (float64, error) {
	rmse, err := RMSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	n := yTrue.Len()
	var mean float64
	for i := 0; i < n; i++ {
		mean += yTrue.AtVec(i)
	}
	mean /= float64(n)

	if mean == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("nrmse_mean", "zero mean of true values", math.NaN()))
		return math.NaN(), nil
	}
	return rmse / mean, nil
}

// NRMSERange は範囲で正規化した RMSE（RMSE / (max - min)）を返す。
func NRMSERange(yTrue, yPred mat.Vector) (float64, error) {
	rmse, err := RMSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < yTrue.Len(); i++ {
		v := yTrue.AtVec(i)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if hi == lo {
		errors.Warn(errors.NewUndefinedMetricWarning("nrmse_range", "constant true values", math.NaN()))
		return math.NaN(), nil
	}
	return rmse / (hi - lo), nil
}

// ExplainedVarianceScore は説明分散スコアを計算する
func ExplainedVarianceScore(yTrue, yPred mat.Vector) (float64, error) {
	n, err := checkPair("ExplainedVarianceScore", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yTrueMean, diffMean float64
	for i := 0; i < n; i++ {
		yTrueMean += yTrue.AtVec(i)
		diffMean += yTrue.AtVec(i) - yPred.AtVec(i)
	}
	yTrueMean /= float64(n)
	diffMean /= float64(n)

	var varYTrue, varDiff float64
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		diff := t - yPred.AtVec(i)
		varYTrue += (t - yTrueMean) * (t - yTrueMean)
		varDiff += (diff - diffMean) * (diff - diffMean)
	}

	if varYTrue == 0 {
		return 0, errors.Newf("ExplainedVarianceScore: no variance in yTrue")
	}
	// 1 - Var(yTrue - yPred) / Var(yTrue)
	return 1 - varDiff/varYTrue, nil
}
