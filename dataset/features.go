// Package dataset defines the fixed weather feature schema, loads the merged
// generation table and partitions it into per-generator datasets.
package dataset

import (
	"strings"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// NumFeatures is the width of every observation's feature vector.
const NumFeatures = 9

// Feature names in model input order. Trained models depend on this order.
const (
	InstalledCapacity  = "installed_capacity"
	MeanTemperature    = "mean_temperature"
	MeanHumidity       = "mean_humidity"
	TotalPrecipitation = "total_precipitation"
	TotalSnowfall      = "total_snowfall"
	MeanWindSpeed      = "mean_wind_speed"
	SunshineDuration   = "sunshine_duration"
	SolarIrradiance    = "solar_irradiance"
	MeanCloudCover     = "mean_cloud_cover"
)

// FeatureNames lists the nine features in canonical order.
var FeatureNames = [NumFeatures]string{
	InstalledCapacity,
	MeanTemperature,
	MeanHumidity,
	TotalPrecipitation,
	TotalSnowfall,
	MeanWindSpeed,
	SunshineDuration,
	SolarIrradiance,
	MeanCloudCover,
}

var featureIndex = func() map[string]int {
	m := make(map[string]int, NumFeatures)
	for i, name := range FeatureNames {
		m[name] = i
	}
	return m
}()

// FeatureIndex returns the canonical position of name.
func FeatureIndex(name string) (int, bool) {
	i, ok := featureIndex[name]
	return i, ok
}

// FeatureSubset is a non-empty list of feature names in canonical relative
// order.
type FeatureSubset []string

// AllFeatures returns the full nine-feature subset.
func AllFeatures() FeatureSubset {
	return append(FeatureSubset(nil), FeatureNames[:]...)
}

// NewFeatureSubset validates names and orders them canonically.
func NewFeatureSubset(names ...string) (FeatureSubset, error) {
	seen := make(map[int]bool, len(names))
	var problems []string
	for _, n := range names {
		i, ok := featureIndex[n]
		if !ok {
			problems = append(problems, "unknown feature "+n)
			continue
		}
		seen[i] = true
	}
	if len(problems) > 0 {
		return nil, errors.NewValidationError("features", strings.Join(problems, "; "), names)
	}
	if len(seen) == 0 {
		return nil, errors.NewValidationError("features", "feature subset must not be empty", names)
	}
	out := make(FeatureSubset, 0, len(seen))
	for i, name := range FeatureNames {
		if seen[i] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Validate checks that s is non-empty, known, duplicate free and ordered.
func (s FeatureSubset) Validate() error {
	if len(s) == 0 {
		return errors.NewValidationError("features", "feature subset must not be empty", []string(s))
	}
	last := -1
	for _, name := range s {
		i, ok := featureIndex[name]
		if !ok {
			return errors.NewValidationError("features", "unknown feature "+name, []string(s))
		}
		if i <= last {
			return errors.NewValidationError("features", "features out of canonical order or duplicated", []string(s))
		}
		last = i
	}
	return nil
}

// Indices maps the subset to column positions in the full feature vector.
// It panics on an invalid subset; callers build subsets through
// NewFeatureSubset or Without.
func (s FeatureSubset) Indices() []int {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	idx := make([]int, len(s))
	for k, name := range s {
		idx[k] = featureIndex[name]
	}
	return idx
}

// Without returns a copy of s with name removed.
func (s FeatureSubset) Without(name string) FeatureSubset {
	out := make(FeatureSubset, 0, len(s))
	for _, n := range s {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Contains reports whether name is in s.
func (s FeatureSubset) Contains(name string) bool {
	for _, n := range s {
		if n == name {
			return true
		}
	}
	return false
}

func (s FeatureSubset) String() string {
	return strings.Join(s, ",")
}
