// Package classify turns metric observations into choropleth color buckets.
//
// Everything here is pure: no function returns an error or keeps state, so a
// render pass can always draw something and callers may classify concurrently.
package classify

import (
	"math"
	"slices"
)

// NoDataColor fills precincts without a usable value. Catalog validation keeps
// it out of every palette.
const NoDataColor = "#f0f0f0"

// ValueType is the display type of a metric.
type ValueType string

// Metric value types.
const (
	TypePercent  ValueType = "percent"
	TypeCurrency ValueType = "currency"
	TypeNumber   ValueType = "number"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case TypePercent, TypeCurrency, TypeNumber:
		return true
	default:
		return false
	}
}

// Strategy is how a metric's breaks are derived.
type Strategy int

const (
	// StrategyQuantile derives breaks from the distribution of visible values.
	StrategyQuantile Strategy = iota
	// StrategyFixedPercent uses evenly spaced breaks over 0..100.
	StrategyFixedPercent
	// StrategyFixedRange uses the metric's configured breaks.
	StrategyFixedRange
	// StrategyEqualInterval spaces breaks evenly over the observed min..max.
	StrategyEqualInterval
)

func (s Strategy) String() string {
	switch s {
	case StrategyQuantile:
		return "quantile"
	case StrategyFixedPercent:
		return "fixed_percent"
	case StrategyFixedRange:
		return "fixed_range"
	case StrategyEqualInterval:
		return "equal_interval"
	default:
		return "unknown"
	}
}

// StaticStrategy picks the strategy used when dynamic scaling is off.
func StaticStrategy(t ValueType, fixed []float64) Strategy {
	switch {
	case t == TypePercent:
		return StrategyFixedPercent
	case len(fixed) > 0:
		return StrategyFixedRange
	default:
		return StrategyEqualInterval
	}
}

// Scheme is everything the classifier needs to know about a metric. It is
// built once per metric when the catalog is loaded.
type Scheme struct {
	Type    ValueType
	Palette []string
	Static  Strategy
	Fixed   []float64
}

// Strategy returns the strategy in effect for the given scaling mode.
func (s Scheme) Strategy(dynamic bool) Strategy {
	if dynamic {
		return StrategyQuantile
	}
	return s.Static
}

// Scale is a classification result. Styling and legend for one render must
// come from the same Scale.
type Scale struct {
	Breaks   []float64 `json:"breaks"`
	Palette  []string  `json:"palette"`
	Strategy Strategy  `json:"-"`
}

// Empty reports whether no classification was possible.
func (s Scale) Empty() bool { return len(s.Breaks) == 0 }

// Color maps an observation to a fill color.
func (s Scale) Color(o Observation) string {
	v, ok := o.Float()
	if !ok {
		return NoDataColor
	}
	i := s.Bucket(v)
	if i < 0 {
		return NoDataColor
	}
	return s.Palette[i]
}

// Bucket returns the palette index for v, or -1 when v gets the no-data color.
func (s Scale) Bucket(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || len(s.Breaks) == 0 || len(s.Palette) == 0 {
		return -1
	}
	return bucket(v, s.Breaks, len(s.Palette))
}

// Classify computes breaks for values under scheme. Non-finite values are
// ignored; callers drop Missing and NotFetched observations beforehand (see
// Values).
func Classify(values []float64, scheme Scheme, dynamic bool) Scale {
	buckets := len(scheme.Palette)
	strategy := scheme.Strategy(dynamic)
	scale := Scale{Palette: slices.Clone(scheme.Palette), Strategy: strategy}
	if buckets == 0 {
		return scale
	}

	vals := finite(values)

	var breaks []float64
	var lo, hi float64
	switch strategy {
	case StrategyFixedPercent:
		lo, hi = 0, 100
		breaks = EqualIntervalBreaks(lo, hi, buckets+1)
	case StrategyFixedRange:
		if len(scheme.Fixed) == 0 {
			return scale
		}
		breaks = slices.Clone(scheme.Fixed)
		lo, hi = breaks[0], breaks[len(breaks)-1]
	case StrategyEqualInterval:
		if len(vals) == 0 {
			return scale
		}
		lo, hi = minMax(vals)
		breaks = EqualIntervalBreaks(lo, hi, buckets+1)
	default:
		if len(vals) == 0 {
			return scale
		}
		lo, hi = minMax(vals)
		if scheme.Type == TypePercent {
			lo = 0
		}
		breaks = QuantileBreaks(vals, buckets+1)
		if len(breaks) < 2 {
			breaks = []float64{lo, hi}
		}
		breaks[0] = lo
		breaks[len(breaks)-1] = hi
	}

	if len(breaks) > buckets+1 {
		breaks = breaks[:buckets+1]
	}
	makeIncreasing(breaks, lo, hi, buckets)
	scale.Breaks = breaks
	return scale
}

// QuantileBreaks samples bucketCount nearest-rank quantiles of values
// (index floor(q*(n-1)) into the sorted values, no interpolation) and drops
// repeats, so the result is strictly increasing and may be shorter than
// requested. Empty input yields nil.
func QuantileBreaks(values []float64, bucketCount int) []float64 {
	sorted := finite(values)
	n := len(sorted)
	if n == 0 {
		return nil
	}
	slices.Sort(sorted)

	count := min(max(bucketCount, 2), max(2, n))
	per := 1 / float64(count-1)

	breaks := make([]float64, 0, count)
	for i := range count {
		q := float64(i) * per
		idx := int(math.Floor(q * float64(n-1)))
		idx = min(max(idx, 0), n-1)
		v := sorted[idx]
		if len(breaks) > 0 && breaks[len(breaks)-1] == v {
			continue
		}
		breaks = append(breaks, v)
	}
	return breaks
}

// EqualIntervalBreaks returns count evenly spaced points from lo to hi
// inclusive. lo == hi yields count equal values.
func EqualIntervalBreaks(lo, hi float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return []float64{lo}
	}
	n := float64(count - 1)
	step := (hi - lo) / n
	breaks := make([]float64, count)
	for i := range count {
		if math.IsInf(step, 0) {
			// hi-lo overflows; blend the endpoints instead.
			t := float64(i) / n
			breaks[i] = lo*(1-t) + hi*t
			continue
		}
		breaks[i] = lo + float64(i)*step
	}
	return breaks
}

// ColorFor maps v onto palette using breaks. The interval whose lower bound
// is the largest one <= v wins; values below the first break clamp to the
// first color. NaN and infinities get NoDataColor, as does any lookup with no
// breaks or no palette.
func ColorFor(v float64, breaks []float64, palette []string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || len(breaks) == 0 || len(palette) == 0 {
		return NoDataColor
	}
	return palette[bucket(v, breaks, len(palette))]
}

func bucket(v float64, breaks []float64, paletteLen int) int {
	for i := len(breaks) - 1; i >= 1; i-- {
		if v >= breaks[i-1] {
			return min(i-1, paletteLen-1)
		}
	}
	return 0
}

// makeIncreasing bumps every break that does not exceed its predecessor by
// (hi-lo)/buckets. A zero-width range steps by 1/buckets instead.
func makeIncreasing(breaks []float64, lo, hi float64, buckets int) {
	step := (hi - lo) / float64(buckets)
	if !(step > 0) || math.IsInf(step, 0) {
		step = 1 / float64(buckets)
	}
	for i := 1; i < len(breaks); i++ {
		if breaks[i] > breaks[i-1] {
			continue
		}
		breaks[i] = breaks[i-1] + step
		if breaks[i] <= breaks[i-1] {
			breaks[i] = math.Nextafter(breaks[i-1], math.Inf(1))
		}
	}
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func minMax(values []float64) (float64, float64) {
	return slices.Min(values), slices.Max(values)
}
