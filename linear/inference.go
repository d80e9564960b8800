package linear

import (
	"math"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OLSSummary holds classical inference for an ordinary least squares fit
// with intercept. Slices are aligned with the columns of X; the intercept's
// statistics are kept apart.
type OLSSummary struct {
	Coef    []float64
	StdErr  []float64
	TValues []float64
	PValues []float64

	Intercept       float64
	InterceptPValue float64
	// DF is the residual degrees of freedom n - p - 1.
	DF int
	// RSquared of the fit on the training data.
	RSquared float64
}

// OLS fits y = b0 + Xb by least squares and computes two-sided p-values
// for every coefficient from a Student-t distribution with n - p - 1
// degrees of freedom.
func OLS(X, y mat.Matrix) (*OLSSummary, error) {
	n, p := X.Dims()
	if ry, _ := y.Dims(); ry != n {
		return nil, errors.NewDimensionError("OLS", n, ry, 0)
	}
	df := n - p - 1
	if df < 1 {
		return nil, errors.NewValueError("OLS", "not enough samples for inference")
	}

	design := mat.NewDense(n, p+1, nil)
	yv := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			design.Set(i, j+1, X.At(i, j))
		}
		yv.SetVec(i, y.At(i, 0))
	}

	var xtx, xtxInv mat.Dense
	xtx.Mul(design.T(), design)
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, errors.NewModelError("OLS", "singular design matrix", errors.ErrSingularMatrix)
	}

	var xty, beta mat.VecDense
	xty.MulVec(design.T(), yv)
	beta.MulVec(&xtxInv, &xty)

	var fitted, resid mat.VecDense
	fitted.MulVec(design, &beta)
	resid.SubVec(yv, &fitted)
	rss := mat.Dot(&resid, &resid)
	sigma2 := rss / float64(df)

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yv.AtVec(i)
	}
	yMean /= float64(n)
	var tss float64
	for i := 0; i < n; i++ {
		d := yv.AtVec(i) - yMean
		tss += d * d
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	pvalue := func(t float64) float64 {
		if math.IsInf(t, 0) {
			return 0
		}
		return 2 * dist.Survival(math.Abs(t))
	}

	s := &OLSSummary{
		Coef:    make([]float64, p),
		StdErr:  make([]float64, p),
		TValues: make([]float64, p),
		PValues: make([]float64, p),
		DF:      df,
	}
	if tss > 0 {
		s.RSquared = 1 - rss/tss
	} else {
		s.RSquared = 1
	}
	for k := 0; k <= p; k++ {
		se := math.Sqrt(sigma2 * xtxInv.At(k, k))
		b := beta.AtVec(k)
		t := math.Inf(1)
		if se > 0 {
			t = b / se
		}
		if k == 0 {
			s.Intercept = b
			s.InterceptPValue = pvalue(t)
			continue
		}
		s.Coef[k-1] = b
		s.StdErr[k-1] = se
		s.TValues[k-1] = t
		s.PValues[k-1] = pvalue(t)
	}
	return s, nil
}
