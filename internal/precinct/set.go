package precinct

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/precinct-map/internal/classify"
)

// Set is an ordered collection of precincts indexed by ID. It is not safe for
// concurrent mutation; the ingest manager serialises access.
type Set struct {
	precincts []*Precinct
	byID      map[string]int
}

// NewSet builds a set. Later precincts with a duplicate ID are dropped.
func NewSet(ps []*Precinct) *Set {
	s := &Set{byID: make(map[string]int, len(ps))}
	for _, p := range ps {
		if p == nil {
			continue
		}
		key := NormalizeID(p.ID)
		if _, dup := s.byID[key]; dup {
			continue
		}
		s.byID[key] = len(s.precincts)
		s.precincts = append(s.precincts, p)
	}
	return s
}

// Len returns the number of precincts.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.precincts)
}

// All returns the precincts in load order.
func (s *Set) All() []*Precinct {
	if s == nil {
		return nil
	}
	return s.precincts
}

// Get looks up a precinct by (normalised) ID.
func (s *Set) Get(id string) (*Precinct, bool) {
	if s == nil {
		return nil, false
	}
	idx, ok := s.byID[NormalizeID(id)]
	if !ok {
		return nil, false
	}
	return s.precincts[idx], true
}

// First returns the first precinct, used as the sample for load status.
func (s *Set) First() (*Precinct, bool) {
	if s.Len() == 0 {
		return nil, false
	}
	return s.precincts[0], true
}

// Bounds returns the extent of every boundary in the set.
func (s *Set) Bounds() *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, p := range s.All() {
		if p.Bounds() != nil {
			b.Extend(p.Geometry)
		}
	}
	if b.IsEmpty() {
		return nil
	}
	return b
}

// Visible returns the precincts whose bounds overlap vp, or all precincts
// when vp is nil.
func (s *Set) Visible(vp *Viewport) []*Precinct {
	if vp == nil {
		return s.All()
	}
	var out []*Precinct
	for _, p := range s.All() {
		if vp.Overlaps(p.Bounds()) {
			out = append(out, p)
		}
	}
	return out
}

// Observations returns the visible precincts' readings of variable.
func (s *Set) Observations(variable string, vp *Viewport) []classify.Observation {
	visible := s.Visible(vp)
	out := make([]classify.Observation, len(visible))
	for i, p := range visible {
		out[i] = p.Observation(variable)
	}
	return out
}

// Values returns the usable numbers among the visible precincts' readings of
// variable: only finite, non-negative Value observations.
func (s *Set) Values(variable string, vp *Viewport) []float64 {
	return classify.Values(s.Observations(variable, vp))
}
