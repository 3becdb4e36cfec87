// Package precinct models precinct boundaries and the ACS observations
// joined onto them.
package precinct

import (
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/precinct-map/internal/classify"
)

// Precinct is one voting precinct.
type Precinct struct {
	ID   string
	Name string
	// FIPS is the census block or tract GEOID the precinct falls in, when known.
	FIPS       string
	Geometry   *geom.MultiPolygon
	Properties map[string]any

	values map[string]classify.Observation
}

// New creates a precinct with no observations.
func New(id string, geometry *geom.MultiPolygon, props map[string]any) *Precinct {
	if props == nil {
		props = make(map[string]any)
	}
	return &Precinct{
		ID:         id,
		Geometry:   geometry,
		Properties: props,
		values:     make(map[string]classify.Observation),
	}
}

// Observation returns the precinct's reading of variable; NotFetched when no
// source has supplied it.
func (p *Precinct) Observation(variable string) classify.Observation {
	return p.values[variable]
}

// SetObservation records o for variable.
func (p *Precinct) SetObservation(variable string, o classify.Observation) {
	if p.values == nil {
		p.values = make(map[string]classify.Observation)
	}
	p.values[variable] = o
}

// Observations returns a copy of every recorded observation.
func (p *Precinct) Observations() map[string]classify.Observation {
	return maps.Clone(p.values)
}

// Bounds returns the bounding box of the boundary, or nil without geometry.
func (p *Precinct) Bounds() *geom.Bounds {
	if p.Geometry == nil || p.Geometry.Empty() {
		return nil
	}
	return p.Geometry.Bounds()
}

// Centroid returns the center of the bounding box as (lat, lon).
func (p *Precinct) Centroid() (lat, lon float64, ok bool) {
	b := p.Bounds()
	if b == nil {
		return 0, 0, false
	}
	return (b.Min(1) + b.Max(1)) / 2, (b.Min(0) + b.Max(0)) / 2, true
}

// NormalizeID canonicalises precinct identifiers so "1001", "1001.0" and the
// number 1001 all compare equal.
func NormalizeID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}

func stringProp(props map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// fipsProp reads a GEOID-like property. Numeric JSON values lose leading zeros,
// so they are padded back to the 11-digit tract or 15-digit block width.
func fipsProp(props map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if s := strings.TrimSpace(v); len(s) >= 11 {
				return s
			}
		case float64:
			if v <= 0 || v != math.Trunc(v) {
				continue
			}
			s := strconv.FormatFloat(v, 'f', 0, 64)
			switch {
			case len(s) == 10 || len(s) == 14:
				return "0" + s
			case len(s) >= 11:
				return s
			}
		}
	}
	return ""
}
