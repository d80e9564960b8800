package linear

// Option configures a LinearRegression
type Option func(*LinearRegression)

// WithFitIntercept sets whether to calculate the intercept
func WithFitIntercept(fit bool) Option {
	return func(lr *LinearRegression) {
		lr.FitIntercept = fit
	}
}

// WithTol sets the relative singular value cutoff used by the SVD fallback
func WithTol(tol float64) Option {
	return func(lr *LinearRegression) {
		lr.Tol = tol
	}
}

// ElasticNetOption configures an ElasticNet
type ElasticNetOption func(*ElasticNet)

// WithMaxIter caps the coordinate descent sweeps
func WithMaxIter(n int) ElasticNetOption {
	return func(en *ElasticNet) {
		en.MaxIter = n
	}
}

// WithTolerance sets the coordinate descent stopping tolerance
func WithTolerance(tol float64) ElasticNetOption {
	return func(en *ElasticNet) {
		en.Tol = tol
	}
}

// WithElasticNetIntercept sets whether ElasticNet fits an intercept
func WithElasticNetIntercept(fit bool) ElasticNetOption {
	return func(en *ElasticNet) {
		en.FitIntercept = fit
	}
}
