package precinct

import (
	"maps"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// MergeOptions names the join columns.
type MergeOptions struct {
	// FeatureIDProp is the boundary property holding the precinct ID.
	FeatureIDProp string
	// RowIDColumn is the CSV column holding the precinct ID.
	RowIDColumn string
}

// DefaultMergeOptions joins GeoJSON "PRECINCT" to CSV "Precinct_ID".
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{FeatureIDProp: "PRECINCT", RowIDColumn: "Precinct_ID"}
}

// MergeStats summarises a join.
type MergeStats struct {
	Features  int `json:"features"`
	Rows      int `json:"rows"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Merge keeps the features that have a CSV row and copies the row onto the
// feature's properties. Row values win over boundary properties.
func Merge(features []Feature, rows []Row, opts MergeOptions) (*Set, MergeStats) {
	if opts.FeatureIDProp == "" || opts.RowIDColumn == "" {
		opts = DefaultMergeOptions()
	}

	byID := make(map[string]Row, len(rows))
	for _, row := range rows {
		id := NormalizeID(row[opts.RowIDColumn])
		if id == "" {
			continue
		}
		byID[id] = row
	}

	stats := MergeStats{Features: len(features), Rows: len(rows)}
	ps := make([]*Precinct, 0, len(features))
	for _, f := range features {
		id := NormalizeID(f.Properties[opts.FeatureIDProp])
		row, ok := byID[id]
		if id == "" || !ok {
			stats.Unmatched++
			continue
		}
		props := make(map[string]any, len(f.Properties)+len(row))
		maps.Copy(props, f.Properties)
		maps.Copy(props, row)
		ps = append(ps, fromProps(id, f.Geometry, props))
		stats.Matched++
	}

	set := NewSet(ps)
	zap.L().Info("precinct: merged boundaries with attributes",
		zap.Int("features", stats.Features),
		zap.Int("rows", stats.Rows),
		zap.Int("matched", stats.Matched),
	)
	return set, stats
}

// FromFeatures builds a set straight from boundaries, using idProp (or the
// feature ID when idProp is empty) as the precinct ID.
func FromFeatures(features []Feature, idProp string) *Set {
	ps := make([]*Precinct, 0, len(features))
	for _, f := range features {
		id := f.ID
		if idProp != "" {
			id = NormalizeID(f.Properties[idProp])
		}
		if id == "" {
			continue
		}
		ps = append(ps, fromProps(id, f.Geometry, f.Properties))
	}
	return NewSet(ps)
}

func fromProps(id string, g *geom.MultiPolygon, props map[string]any) *Precinct {
	p := New(id, g, props)
	p.Name = stringProp(props, "Name", "NAME", "PRECINCT_NAME", "precinct_name")
	if p.Name == "" {
		p.Name = id
	}
	p.FIPS = fipsProp(props, "FIPS", "GEOID", "GEOID20", "fips")
	return p
}
