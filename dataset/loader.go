package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Column names besides the nine features.
const (
	GeneratorColumn = "generator_id"
	TargetColumn    = "generation_mwh"
	DateColumn      = "date"
)

// headerAliases maps the headers of the merged source table to canonical
// column names.
var headerAliases = map[string]string{
	"설비용량(MW)": InstalledCapacity,
	"평균기온":     MeanTemperature,
	"평균습도":     MeanHumidity,
	"총강수량":     TotalPrecipitation,
	"총적설량":     TotalSnowfall,
	"평균풍속":     MeanWindSpeed,
	"일조시간":     SunshineDuration,
	"일사량":      SolarIrradiance,
	"평균운량":     MeanCloudCover,
	"발전기명":     GeneratorColumn,
	"발전량(MWh)": TargetColumn,
	"날짜":       DateColumn,
}

// LoadOptions controls CSV parsing.
type LoadOptions struct {
	// Comma is the field delimiter, ',' when zero.
	Comma rune
}

// LoadCSV reads the merged table at path. A missing required column, an
// unparsable number or an empty table is a ConfigError.
func LoadCSV(path string, opts LoadOptions) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("data_path: %v", err))
	}
	defer f.Close()
	return Read(f, opts)
}

// Read parses a merged table from r.
func Read(r io.Reader, opts LoadOptions) ([]Observation, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewConfigError("data table is empty")
	}
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("read header: %v", err))
	}
	cols, err := resolveHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("line %d: %v", line, err))
		}
		obs, err := parseRecord(rec, cols, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, obs)
	}
	if len(rows) == 0 {
		return nil, errors.NewConfigError("data table has no rows")
	}
	return rows, nil
}

type columnMap struct {
	generator int
	target    int
	date      int
	features  [NumFeatures]int
}

func canonicalHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	if c, ok := headerAliases[h]; ok {
		return c
	}
	return strings.ToLower(h)
}

func resolveHeader(header []string) (columnMap, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[canonicalHeader(h)] = i
	}

	cols := columnMap{date: -1}
	var missing []string
	lookup := func(name string) int {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, "missing required column "+name)
			return -1
		}
		return i
	}
	cols.generator = lookup(GeneratorColumn)
	cols.target = lookup(TargetColumn)
	for j, name := range FeatureNames {
		cols.features[j] = lookup(name)
	}
	if i, ok := pos[DateColumn]; ok {
		cols.date = i
	}
	if len(missing) > 0 {
		return cols, errors.NewConfigError(missing...)
	}
	return cols, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseValue returns NaN for empty and NaN-like cells.
func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "-":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func parseRecord(rec []string, cols columnMap, line int) (Observation, error) {
	obs := Observation{
		GeneratorID: strings.TrimSpace(cell(rec, cols.generator)),
		Date:        cell(rec, cols.date),
	}
	var problems []string
	for j, c := range cols.features {
		v, err := parseValue(cell(rec, c))
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %s: %v", line, FeatureNames[j], err))
			continue
		}
		if math.IsNaN(v) {
			obs.Missing[j] = true
			continue
		}
		obs.Features[j] = v
	}
	target, err := parseValue(cell(rec, cols.target))
	if err != nil {
		problems = append(problems, fmt.Sprintf("line %d: %s: %v", line, TargetColumn, err))
	}
	obs.Target = target
	if len(problems) > 0 {
		return obs, errors.NewConfigError(problems...)
	}
	return obs, nil
}
