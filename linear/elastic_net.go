package linear

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ElasticNet minimizes
//
//	1/(2n)·||y - Xw||² + α·ρ·||w||₁ + α·(1-ρ)/2·||w||²
//
// by cyclic coordinate descent, where ρ is L1Ratio. L1Ratio 1 is the lasso.
type ElasticNet struct {
	Base
	Alpha   float64
	L1Ratio float64
	MaxIter int
	Tol     float64
	// NIter is the number of sweeps the last Fit ran.
	NIter int
}

// NewElasticNet creates an ElasticNet regressor.
func NewElasticNet(alpha, l1Ratio float64, opts ...ElasticNetOption) *ElasticNet {
	en := &ElasticNet{
		Base:    newBase("ElasticNet"),
		Alpha:   alpha,
		L1Ratio: l1Ratio,
		MaxIter: 1000,
		Tol:     1e-4,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// NewLasso creates an ElasticNet with a pure L1 penalty.
func NewLasso(alpha float64, opts ...ElasticNetOption) *ElasticNet {
	en := NewElasticNet(alpha, 1, opts...)
	en.Name = "Lasso"
	return en
}

func (en *ElasticNet) validate() error {
	switch {
	case en.Alpha < 0:
		return errors.NewValidationError("alpha", "must be non-negative", en.Alpha)
	case en.L1Ratio < 0 || en.L1Ratio > 1:
		return errors.NewValidationError("l1_ratio", "must be in [0, 1]", en.L1Ratio)
	case en.MaxIter < 1:
		return errors.NewValidationError("max_iter", "must be positive", en.MaxIter)
	}
	return nil
}

// Fit はモデルを訓練データで学習させる
func (en *ElasticNet) Fit(X, y mat.Matrix) error {
	if err := en.validate(); err != nil {
		return err
	}
	d, err := en.prepare(en.Name+".Fit", X, y)
	if err != nil {
		return err
	}
	n, c := d.X.Dims()
	nf := float64(n)
	l1 := en.Alpha * en.L1Ratio * nf
	l2 := en.Alpha * (1 - en.L1Ratio) * nf

	colNorm := make([]float64, c)
	for j := 0; j < c; j++ {
		col := d.X.ColView(j)
		colNorm[j] = mat.Dot(col, col)
	}

	w := make([]float64, c)
	residual := mat.VecDenseCopyOf(d.y)
	converged := false
	for en.NIter = 1; en.NIter <= en.MaxIter; en.NIter++ {
		var maxDelta, maxW float64
		for j := 0; j < c; j++ {
			if colNorm[j] == 0 {
				continue
			}
			col := d.X.ColView(j)
			old := w[j]
			rho := mat.Dot(col, residual) + colNorm[j]*old
			w[j] = softThreshold(rho, l1) / (colNorm[j] + l2)
			if delta := w[j] - old; delta != 0 {
				residual.AddScaledVec(residual, -delta, col)
				maxDelta = math.Max(maxDelta, math.Abs(delta))
			}
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if maxW == 0 || maxDelta/maxW < en.Tol {
			converged = true
			break
		}
	}
	if !converged {
		en.NIter = en.MaxIter
		errors.Warn(errors.NewConvergenceWarning(en.Name, en.MaxIter, ""))
	}

	return en.finish(d, w)
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

func (en *ElasticNet) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":         en.Alpha,
		"l1_ratio":      en.L1Ratio,
		"max_iter":      en.MaxIter,
		"tol":           en.Tol,
		"fit_intercept": en.FitIntercept,
	}
}

func (en *ElasticNet) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "alpha":
			en.Alpha, err = model.FloatParam(k, v)
		case "l1_ratio":
			en.L1Ratio, err = model.FloatParam(k, v)
		case "max_iter":
			en.MaxIter, err = model.IntParam(k, v)
		case "tol":
			en.Tol, err = model.FloatParam(k, v)
		case "fit_intercept":
			err = fitInterceptParam(&en.Base, v)
		default:
			err = model.UnknownParam(en.Name, k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
