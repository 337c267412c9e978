package config

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Parameter kinds.
const (
	KindNumber = "number"
	KindText   = "text"
	KindRange  = "range"
	KindList   = "list"
)

// Param is a tagged strategy parameter. Kind selects which fields apply:
// number and text use Value, range uses Default/Min/Max/Step and can be
// swept, list uses Values.
type Param struct {
	Kind     string   `mapstructure:"type"`
	Value    any      `mapstructure:"value"`
	Default  float64  `mapstructure:"default"`
	Min      float64  `mapstructure:"min"`
	Max      float64  `mapstructure:"max"`
	Step     float64  `mapstructure:"step"`
	Optimize bool     `mapstructure:"optimize"`
	Values   []string `mapstructure:"values"`
}

func (p Param) validate(name string) error {
	key := "strategy.params." + name
	switch p.Kind {
	case KindNumber:
		if _, err := cast.ToFloat64E(p.Value); err != nil {
			return invalid(key, fmt.Sprintf("value %v is not a number", p.Value))
		}
	case KindText:
		if _, err := cast.ToStringE(p.Value); err != nil {
			return invalid(key, fmt.Sprintf("value %v is not text", p.Value))
		}
	case KindRange:
		if p.Min > p.Max || p.Default < p.Min || p.Default > p.Max {
			return invalid(key, fmt.Sprintf("default %v outside [%v, %v]", p.Default, p.Min, p.Max))
		}
		if p.Optimize && p.Step <= 0 {
			return invalid(key, "optimised range needs a positive step")
		}
	case KindList:
		if len(p.Values) == 0 {
			return invalid(key, "list is empty")
		}
	default:
		return invalid(key, fmt.Sprintf("unknown type %q", p.Kind))
	}
	return nil
}

// Number returns the numeric value of a number or range parameter.
func (p Param) Number() (float64, error) {
	switch p.Kind {
	case KindNumber:
		return cast.ToFloat64E(p.Value)
	case KindRange:
		return p.Default, nil
	default:
		return 0, fmt.Errorf("%w: %s parameter is not numeric", ErrInvalidParameter, p.Kind)
	}
}

// Text returns the value of a text parameter, or the first entry of a list.
func (p Param) Text() (string, error) {
	switch p.Kind {
	case KindText:
		return cast.ToStringE(p.Value)
	case KindList:
		return p.Values[0], nil
	default:
		return "", fmt.Errorf("%w: %s parameter is not text", ErrInvalidParameter, p.Kind)
	}
}

// Steps expands an optimised range into its values. Other parameters yield
// their single value.
func (p Param) Steps() []float64 {
	if p.Kind != KindRange || !p.Optimize {
		v, _ := p.Number()
		return []float64{v}
	}
	var out []float64
	n := int(math.Floor((p.Max-p.Min)/p.Step+1e-9)) + 1
	for i := 0; i < n; i++ {
		out = append(out, p.Min+float64(i)*p.Step)
	}
	return out
}

// StrategyParams is the typed form generators are built from.
type StrategyParams struct {
	ShortLookback  int
	MediumLookback int
	LongLookback   int
	TopN           int
	Weights        map[string]float64
}

// strategyRequires lists the parameters each named strategy cannot run without.
var strategyRequires = map[string][]string{
	"ema":    {"st_lookback", "mt_lookback", "lt_lookback"},
	"top_n":  {"top_n"},
	"static": nil,
}

// Resolve converts the tagged parameters into StrategyParams once, before
// the run starts.
func (s Strategy) Resolve() (StrategyParams, error) {
	var out StrategyParams
	for _, name := range strategyRequires[s.Name] {
		if _, ok := s.Params[name]; !ok {
			return out, fmt.Errorf("%w: strategy.params.%s for %s", ErrMissingParameter, name, s.Name)
		}
	}
	if s.Name == "static" && len(s.Weights) == 0 {
		return out, fmt.Errorf("%w: strategy.weights for static", ErrMissingParameter)
	}

	ints := map[string]*int{
		"st_lookback": &out.ShortLookback,
		"mt_lookback": &out.MediumLookback,
		"lt_lookback": &out.LongLookback,
		"top_n":       &out.TopN,
	}
	for name, dst := range ints {
		p, ok := s.Params[name]
		if !ok {
			continue
		}
		v, err := p.Number()
		if err != nil {
			return out, fmt.Errorf("strategy.params.%s: %w", name, err)
		}
		if v != math.Trunc(v) {
			return out, invalid("strategy.params."+name, fmt.Sprintf("%v is not a whole number", v))
		}
		*dst = int(v)
	}
	if len(s.Weights) > 0 {
		out.Weights = make(map[string]float64, len(s.Weights))
		for k, v := range s.Weights {
			out.Weights[strings.ToUpper(k)] = v
		}
	}
	return out, nil
}

// Variant is one point of a parameter sweep.
type Variant struct {
	Label  string
	Config Config
}

// Variants expands every optimised range parameter into the cartesian
// product of its steps. Without optimised parameters it returns the config
// itself as the only variant.
func (c Config) Variants() []Variant {
	var names []string
	for name, p := range c.Strategy.Params {
		if p.Kind == KindRange && p.Optimize {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := []Variant{{Config: c}}
	for _, name := range names {
		steps := c.Strategy.Params[name].Steps()
		next := make([]Variant, 0, len(out)*len(steps))
		for _, v := range out {
			for _, s := range steps {
				cfg := v.Config.withParam(name, s)
				label := name + "=" + strconv.FormatFloat(s, 'f', -1, 64)
				if v.Label != "" {
					label = v.Label + "," + label
				}
				next = append(next, Variant{Label: label, Config: cfg})
			}
		}
		out = next
	}
	return out
}

func (c Config) withParam(name string, value float64) Config {
	params := make(map[string]Param, len(c.Strategy.Params))
	for k, p := range c.Strategy.Params {
		params[k] = p
	}
	params[name] = Param{Kind: KindNumber, Value: value}
	c.Strategy.Params = params
	return c
}
