// Package learner maps learner family names to regressor implementations and
// wraps fitted regressors with the feature contract they were trained on.
package learner

import (
	"sort"
	"strings"
	"sync"

	"github.com/YuminosukeSato/pvtrain/core/model"
	"github.com/YuminosukeSato/pvtrain/linear"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/sklearn/ensemble"
	"github.com/YuminosukeSato/pvtrain/sklearn/tree"
)

// Family names.
const (
	RandomForest     = "random_forest"
	GradientBoosting = "gradient_boosting"
	Linear           = "linear"
	Ridge            = "ridge"
	Lasso            = "lasso"
	ElasticNet       = "elastic_net"
	DecisionTree     = "decision_tree"
)

// Params holds hyperparameters keyed by their scikit-learn style names.
type Params map[string]interface{}

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overridden by o.
func (p Params) Merge(o Params) Params {
	out := p.Clone()
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Estimator is what every registered family produces.
type Estimator interface {
	model.Regressor
	model.ParameterGetter
	model.ParameterSetter
}

// Factory creates an unfitted estimator with default parameters.
type Factory func() Estimator

// Registry resolves family names and aliases to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a family under name and its aliases.
func (r *Registry) Register(name string, f Factory, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// Canonical resolves an alias to its family name.
func (r *Registry) Canonical(family string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(family))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.aliases[name]; ok {
		name = a
	}
	if _, ok := r.factories[name]; !ok {
		return "", errors.NewValidationError("family", "unknown learner family", family)
	}
	return name, nil
}

// New creates an estimator of family with params applied over the defaults.
func (r *Registry) New(family string, params Params) (Estimator, error) {
	name, err := r.Canonical(family)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	f := r.factories[name]
	r.mu.RUnlock()

	est := f()
	if len(params) > 0 {
		if err := est.SetParams(params); err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}
	}
	return est, nil
}

// Families lists registered family names in sorted order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry holds the built-in families.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(RandomForest, func() Estimator { return ensemble.NewRandomForestRegressor() }, "rf", "randomforest")
	r.Register(GradientBoosting, func() Estimator { return ensemble.NewGradientBoostingRegressor() }, "xgb", "xgboost", "gbdt")
	r.Register(Linear, func() Estimator { return linear.NewLinearRegression() }, "lr", "linear_regression")
	r.Register(Ridge, func() Estimator { return linear.NewRidge(1.0) })
	r.Register(Lasso, func() Estimator { return linear.NewLasso(1.0) })
	r.Register(ElasticNet, func() Estimator { return linear.NewElasticNet(1.0, 0.5) }, "elasticnet")
	r.Register(DecisionTree, func() Estimator { return tree.NewDecisionTreeRegressor() }, "tree", "cart")
	return r
}()

// New creates an estimator from DefaultRegistry.
func New(family string, params Params) (Estimator, error) {
	return DefaultRegistry.New(family, params)
}

// Canonical resolves family against DefaultRegistry.
func Canonical(family string) (string, error) {
	return DefaultRegistry.Canonical(family)
}

// DefaultParams returns the default parameters of family.
func DefaultParams(family string) (Params, error) {
	est, err := New(family, nil)
	if err != nil {
		return nil, err
	}
	return Params(est.GetParams()), nil
}
