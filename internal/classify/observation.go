package classify

import (
	"fmt"
	"math"
)

// Kind tags an Observation.
type Kind uint8

const (
	// KindNotFetched means no source has supplied the variable yet.
	KindNotFetched Kind = iota
	// KindMissing means a source was consulted but reported no usable value.
	KindMissing
	// KindValue carries a measured value.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindNotFetched:
		return "not_fetched"
	case KindMissing:
		return "missing"
	case KindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Observation is one precinct's reading of one variable. The zero value is NotFetched.
type Observation struct {
	kind  Kind
	value float64
}

// NotFetched returns an observation for a variable nobody has loaded.
func NotFetched() Observation { return Observation{kind: KindNotFetched} }

// Missing returns an observation for a variable that was loaded without a value.
func Missing() Observation { return Observation{kind: KindMissing} }

// Value returns an observation carrying v.
func Value(v float64) Observation { return Observation{kind: KindValue, value: v} }

// FromSource converts a raw number from a data source. Negative numbers are
// the sources' "no data" sentinels (-1, -666666666) and become Missing, as do
// NaN and infinities.
func FromSource(v float64) Observation {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Missing()
	}
	return Value(v)
}

// Kind reports which variant o holds.
func (o Observation) Kind() Kind { return o.kind }

// Float returns the value and true when o is a finite, non-negative Value.
func (o Observation) Float() (float64, bool) {
	if o.kind != KindValue || math.IsNaN(o.value) || math.IsInf(o.value, 0) || o.value < 0 {
		return 0, false
	}
	return o.value, true
}

// Fetched reports whether any source has supplied the variable.
func (o Observation) Fetched() bool { return o.kind != KindNotFetched }

func (o Observation) String() string {
	if o.kind == KindValue {
		return fmt.Sprintf("%g", o.value)
	}
	return o.kind.String()
}

// Values extracts the usable numbers from obs, skipping Missing and NotFetched.
func Values(obs []Observation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if v, ok := o.Float(); ok {
			out = append(out, v)
		}
	}
	return out
}
