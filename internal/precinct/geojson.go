package precinct

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// Feature is a boundary read from GeoJSON or a shapefile, before it is joined
// with precinct attributes.
type Feature struct {
	ID         string
	Geometry   *geom.MultiPolygon
	Properties map[string]any
}

type rawFeature struct {
	ID         any             `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection. Polygon
// geometries become single-member MultiPolygons; features with null or
// non-areal geometry are kept without a boundary.
func ParseFeatureCollection(r io.Reader) ([]Feature, error) {
	var fc rawCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "precinct: decode geojson")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("precinct: expected FeatureCollection, got %q", fc.Type)
	}

	features := make([]Feature, 0, len(fc.Features))
	var skipped int
	for i, rf := range fc.Features {
		f := Feature{ID: NormalizeID(rf.ID), Properties: rf.Properties}
		if f.Properties == nil {
			f.Properties = make(map[string]any)
		}

		mp, err := decodeAreal(rf.Geometry)
		if err != nil {
			zap.L().Debug("precinct: feature geometry unreadable",
				zap.Int("feature", i), zap.Error(err))
			skipped++
		}
		f.Geometry = mp
		features = append(features, f)
	}
	if skipped > 0 {
		zap.L().Warn("precinct: features without usable geometry", zap.Int("count", skipped))
	}
	return features, nil
}

func decodeAreal(raw json.RawMessage) (*geom.MultiPolygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "precinct: decode geometry")
	}
	return ToMultiPolygon(g)
}

// ToMultiPolygon converts a Polygon or MultiPolygon to a 2D MultiPolygon.
func ToMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		if t.Layout() == geom.XY {
			return t, nil
		}
		return geom.NewMultiPolygonFlat(geom.XY, dropExtra(t.FlatCoords(), t.Stride()), scaleEndss(t.Endss(), t.Stride())), nil
	case *geom.Polygon:
		flat := dropExtra(t.FlatCoords(), t.Stride())
		ends := scaleEnds(t.Ends(), t.Stride())
		return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{ends}), nil
	default:
		return nil, eris.Errorf("precinct: unsupported geometry %T", g)
	}
}

// dropExtra keeps x,y from coordinates of the given stride.
func dropExtra(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64(nil), flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func scaleEnds(ends []int, stride int) []int {
	out := make([]int, len(ends))
	for i, e := range ends {
		out[i] = e / stride * 2
	}
	return out
}

func scaleEndss(endss [][]int, stride int) [][]int {
	out := make([][]int, len(endss))
	for i, ends := range endss {
		out[i] = scaleEnds(ends, stride)
	}
	return out
}
