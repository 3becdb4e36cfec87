package precinct

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Viewport is a lat/lon bounding box.
type Viewport struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// ParseViewport parses "south,west,north,east".
func ParseViewport(s string) (Viewport, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Viewport{}, eris.Errorf("precinct: viewport %q must be south,west,north,east", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Viewport{}, eris.Errorf("precinct: viewport %q has a bad coordinate %q", s, p)
		}
		vals[i] = v
	}
	vp := Viewport{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	if err := vp.Validate(); err != nil {
		return Viewport{}, err
	}
	return vp, nil
}

// Validate checks coordinate ranges and ordering.
func (v Viewport) Validate() error {
	if v.South < -90 || v.North > 90 || v.West < -180 || v.East > 180 {
		return eris.Errorf("precinct: viewport %s out of range", v)
	}
	if v.South > v.North || v.West > v.East {
		return eris.Errorf("precinct: viewport %s is inverted", v)
	}
	return nil
}

// String renders the viewport with 4 decimals (about 11 m), the precision
// overlay caches key on.
func (v Viewport) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", v.South, v.West, v.North, v.East)
}

// Overlaps reports whether b intersects the viewport, edges included.
func (v Viewport) Overlaps(b *geom.Bounds) bool {
	if b == nil || b.IsEmpty() {
		return false
	}
	return b.Min(0) <= v.East && b.Max(0) >= v.West &&
		b.Min(1) <= v.North && b.Max(1) >= v.South
}
