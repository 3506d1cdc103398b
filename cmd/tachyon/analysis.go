package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/paveg/tachyon"
	"github.com/paveg/tachyon/internal/series"
	"github.com/paveg/tachyon/internal/wire"
	"github.com/spf13/viper"
)

// Analysis is the file format of the run command.
//
//	input: events.parquet
//	steps:
//	  - id: hard
//	    filter: pt > 20
//	    name: hard
//	  - id: central
//	    filter: abs(eta) < 1.5
//	  - define: pt2
//	    expr: pt * pt
//	results:
//	  - name: n
//	    kind: count
//	  - name: pt
//	    kind: histo1d
//	    column: pt
//	    bins: 50
//	    max: 200
//	    from: hard
type Analysis struct {
	Input   string   `mapstructure:"input"`
	Steps   []Step   `mapstructure:"steps"`
	Results []Output `mapstructure:"results"`
}

// Step is a transformation. From names the step it applies to: empty
// means the previous step and "root" the input.
type Step struct {
	ID       string `mapstructure:"id"`
	From     string `mapstructure:"from"`
	Filter   string `mapstructure:"filter"`
	Name     string `mapstructure:"name"`
	Define   string `mapstructure:"define"`
	Redefine string `mapstructure:"redefine"`
	Alias    string `mapstructure:"alias"`
	Column   string `mapstructure:"column"`
	Expr     string `mapstructure:"expr"`
}

// Output is a booked result. From names the step it is booked on: empty
// means the last step.
type Output struct {
	Name    string   `mapstructure:"name"`
	From    string   `mapstructure:"from"`
	Kind    string   `mapstructure:"kind"`
	Column  string   `mapstructure:"column"`
	Weight  string   `mapstructure:"weight"`
	Bins    int      `mapstructure:"bins"`
	Min     float64  `mapstructure:"min"`
	Max     float64  `mapstructure:"max"`
	Path    string   `mapstructure:"path"`
	Columns []string `mapstructure:"columns"`
}

const rootStep = "root"

// LoadAnalysis reads an analysis file in any format viper understands.
func LoadAnalysis(path string) (*Analysis, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading analysis %s: %w", path, err)
	}
	var a Analysis
	if err := v.Unmarshal(&a); err != nil {
		return nil, fmt.Errorf("parsing analysis %s: %w", path, err)
	}
	if len(a.Results) == 0 {
		return nil, fmt.Errorf("analysis %s books no results", path)
	}
	return &a, nil
}

// outcome is one computed result.
type outcome struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

type fetcher func(context.Context) (any, error)

func read[T any](r *tachyon.Result[T], err error) (fetcher, error) {
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, error) { return r.Value(ctx) }, nil
}

func take[T series.Element](df *tachyon.DataFrame, column string) (fetcher, error) {
	r, err := tachyon.Take[T](df, column)
	return read(r, err)
}

// Book builds the graph of a on df and books every result. Nothing is
// computed until the returned function is called.
func (a *Analysis) Book(df *tachyon.DataFrame) (func(context.Context) ([]outcome, error), error) {
	nodes := map[string]*tachyon.DataFrame{rootStep: df}
	last := df
	for i, s := range a.Steps {
		parent := last
		if s.From != "" {
			p, ok := nodes[s.From]
			if !ok {
				return nil, fmt.Errorf("step %d: unknown step %q", i+1, s.From)
			}
			parent = p
		}

		next, err := s.apply(parent)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if s.ID != "" {
			if _, dup := nodes[s.ID]; dup {
				return nil, fmt.Errorf("step %d: duplicate id %q", i+1, s.ID)
			}
			nodes[s.ID] = next
		}
		last = next
	}

	fetchers := make([]fetcher, len(a.Results))
	for i, o := range a.Results {
		node := last
		if o.From != "" {
			p, ok := nodes[o.From]
			if !ok {
				return nil, fmt.Errorf("result %s: unknown step %q", o.Name, o.From)
			}
			node = p
		}
		f, err := o.book(node)
		if err != nil {
			return nil, fmt.Errorf("result %s: %w", o.Name, err)
		}
		fetchers[i] = f
	}

	return func(ctx context.Context) ([]outcome, error) {
		out := make([]outcome, len(fetchers))
		for i, f := range fetchers {
			v, err := f(ctx)
			if err != nil {
				return nil, err
			}
			out[i] = outcome{Name: a.Results[i].Name, Kind: a.Results[i].Kind, Value: v}
		}
		return out, nil
	}, nil
}

func (s Step) apply(df *tachyon.DataFrame) (*tachyon.DataFrame, error) {
	switch {
	case s.Filter != "":
		return df.FilterNamed(s.Filter, s.Name)
	case s.Define != "":
		return df.Define(s.Define, s.Expr)
	case s.Redefine != "":
		return df.Redefine(s.Redefine, s.Expr)
	case s.Alias != "":
		return df.Alias(s.Alias, s.Column)
	}
	return nil, fmt.Errorf("step needs one of filter, define, redefine or alias")
}

func (o Output) book(df *tachyon.DataFrame) (fetcher, error) {
	switch strings.ToLower(o.Kind) {
	case "count":
		return read(df.Count())
	case "sum":
		return read(df.Sum(o.Column))
	case "mean":
		return read(df.Mean(o.Column))
	case "min":
		return read(df.Min(o.Column))
	case "max":
		return read(df.Max(o.Column))
	case "stddev":
		return read(df.StdDev(o.Column))
	case "histo1d":
		model := tachyon.HistModel{Name: o.Name, Title: o.Column, NBins: o.Bins, Min: o.Min, Max: o.Max}
		if o.Weight != "" {
			return read(df.Histo1D(model, o.Column, o.Weight))
		}
		return read(df.Histo1D(model, o.Column))
	case "report":
		return read(df.Report())
	case "snapshot":
		return read(df.Snapshot(o.Path, o.Columns...))
	case "take":
		typ, err := df.ColumnType(o.Column)
		if err != nil {
			return nil, err
		}
		switch typ {
		case "int32":
			return take[int32](df, o.Column)
		case "int64":
			return take[int64](df, o.Column)
		case "float32":
			return take[float32](df, o.Column)
		case "float64":
			return take[float64](df, o.Column)
		case "bool":
			return take[bool](df, o.Column)
		default:
			return take[string](df, o.Column)
		}
	}
	return nil, fmt.Errorf("unknown result kind %q", o.Kind)
}

// jsonValue wraps floats so infinities and NaN survive JSON output.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		return wire.Float(x)
	case []float64:
		return wire.Floats(x)
	}
	return v
}
