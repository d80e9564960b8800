package linear

import (
	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register(&LinearRegression{}, &Ridge{}, &ElasticNet{})
}

// LinearRegression は最小二乗法による線形回帰モデル
type LinearRegression struct {
	Base
	// Tol は SVD フォールバックで特異値を打ち切る相対閾値
	Tol float64
	// Rank は学習データ（中心化後）の数値的ランク
	Rank int
}

// NewLinearRegression は新しい線形回帰モデルを作成する
//
// 使用例:
//
//	lr := linear.NewLinearRegression()
//	err := lr.Fit(X, y)
//	pred, err := lr.Predict(X)
func NewLinearRegression(opts ...Option) *LinearRegression {
	lr := &LinearRegression{Base: newBase("LinearRegression"), Tol: 1e-10}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習させる。
//
// 正規方程式 w = (XᵀX)⁻¹Xᵀy を解き、XᵀX が特異な場合は SVD による
// 最小ノルム解にフォールバックする。
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	d, err := lr.prepare("LinearRegression.Fit", X, y)
	if err != nil {
		return err
	}
	_, c := d.X.Dims()

	var xtx mat.Dense
	xtx.Mul(d.X.T(), d.X)
	var xty mat.VecDense
	xty.MulVec(d.X.T(), d.y)

	coef := mat.NewVecDense(c, nil)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err == nil {
		coef.MulVec(&inv, &xty)
		lr.Rank = c
	} else {
		if lr.Rank, err = solveSVD(d.X, d.y, coef, lr.Tol); err != nil {
			return errors.NewModelError("LinearRegression.Fit", "singular matrix", err)
		}
	}

	return lr.finish(d, append([]float64(nil), coef.RawVector().Data...))
}

// solveSVD は ||Xw - y|| を最小にする最小ノルム解を dst に書き込み、ランクを返す
func solveSVD(X *mat.Dense, y *mat.VecDense, dst *mat.VecDense, tol float64) (int, error) {
	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDThin); !ok {
		return 0, errors.ErrSingularMatrix
	}
	rank := svd.Rank(tol)
	if rank == 0 {
		return 0, errors.ErrSingularMatrix
	}
	svd.SolveVecTo(dst, y, rank)
	return rank, nil
}

// GetParams はハイパーパラメータを返す
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.FitIntercept,
		"tol":           lr.Tol,
	}
}

// SetParams はハイパーパラメータを設定する
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "fit_intercept":
			if err := fitInterceptParam(&lr.Base, v); err != nil {
				return err
			}
		case "tol":
			tol, err := model.FloatParam(k, v)
			if err != nil {
				return err
			}
			lr.Tol = tol
		default:
			return model.UnknownParam("LinearRegression", k, v)
		}
	}
	return nil
}
