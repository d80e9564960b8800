package linear

import (
	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Ridge は L2 正則化付きの線形回帰。(XᵀX + αI)w = Xᵀy を閉形式で解く
type Ridge struct {
	Base
	Alpha float64
}

// NewRidge creates a Ridge regressor with the given regularization strength.
func NewRidge(alpha float64) *Ridge {
	return &Ridge{Base: newBase("Ridge"), Alpha: alpha}
}

// Fit はモデルを訓練データで学習させる
func (r *Ridge) Fit(X, y mat.Matrix) error {
	if r.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", r.Alpha)
	}
	d, err := r.prepare("Ridge.Fit", X, y)
	if err != nil {
		return err
	}
	_, c := d.X.Dims()

	gram := mat.NewSymDense(c, nil)
	gram.SymOuterK(1, d.X.T())
	for j := 0; j < c; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.Alpha)
	}
	var xty mat.VecDense
	xty.MulVec(d.X.T(), d.y)

	coef := mat.NewVecDense(c, nil)
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); ok {
		if err := chol.SolveVecTo(coef, &xty); err != nil {
			return errors.NewModelError("Ridge.Fit", "solve failed", err)
		}
	} else if _, err := solveSVD(d.X, d.y, coef, 1e-10); err != nil {
		// alpha == 0 on rank deficient data
		return errors.NewModelError("Ridge.Fit", "singular matrix", err)
	}

	return r.finish(d, append([]float64(nil), coef.RawVector().Data...))
}

func (r *Ridge) GetParams() map[string]interface{} {
	return map[string]interface{}{"alpha": r.Alpha, "fit_intercept": r.FitIntercept}
}

func (r *Ridge) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "alpha":
			alpha, err := model.FloatParam(k, v)
			if err != nil {
				return err
			}
			r.Alpha = alpha
		case "fit_intercept":
			if err := fitInterceptParam(&r.Base, v); err != nil {
				return err
			}
		default:
			return model.UnknownParam("Ridge", k, v)
		}
	}
	return nil
}
