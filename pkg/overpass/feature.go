package overpass

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Kind is an overlay layer.
type Kind string

// Overlay kinds.
const (
	KindTransit Kind = "transit"
	KindParks   Kind = "parks"
)

// ParseKind validates an overlay kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTransit, KindParks:
		return k, nil
	default:
		return "", eris.Errorf("overpass: unknown overlay kind %q", s)
	}
}

// Query returns the Overpass QL for k over b.
func (k Kind) Query(b BBox) string {
	if k == KindParks {
		return ParksQuery(b)
	}
	return TransitQuery(b)
}

// Feature is a displayable overlay item: a point for stops and small parks,
// a polygon for park areas.
type Feature struct {
	Kind     Kind
	Geometry geom.T
	Name     string
	Type     string
	Operator string
	Routes   string
	Website  string
	MapsURL  string
	Tags     map[string]string
}

// Features converts elements to overlay features. Nodes need non-zero
// coordinates; ways become polygons only for parks and only with at least
// three vertices. Everything else is dropped.
func Features(kind Kind, elements []Element) []Feature {
	out := make([]Feature, 0, len(elements))
	for _, el := range elements {
		switch {
		case el.Type == "node" && el.Lat != 0 && el.Lon != 0:
			f := describe(kind, el.Tags, el.Lat, el.Lon)
			f.Geometry = geom.NewPointFlat(geom.XY, []float64{el.Lon, el.Lat})
			out = append(out, f)
		case el.Type == "way" && kind == KindParks && len(el.Geometry) >= 3:
			flat := make([]float64, 0, len(el.Geometry)*2+2)
			for _, p := range el.Geometry {
				flat = append(flat, p.Lon, p.Lat)
			}
			first, last := el.Geometry[0], el.Geometry[len(el.Geometry)-1]
			if first != last {
				flat = append(flat, first.Lon, first.Lat)
			}
			poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
			b := poly.Bounds()
			lat := (b.Min(1) + b.Max(1)) / 2
			lon := (b.Min(0) + b.Max(0)) / 2
			f := describe(kind, el.Tags, lat, lon)
			f.Geometry = poly
			out = append(out, f)
		}
	}
	return out
}

func describe(kind Kind, tags map[string]string, lat, lon float64) Feature {
	if tags == nil {
		tags = map[string]string{}
	}
	f := Feature{Kind: kind, Tags: tags, Operator: tags["operator"]}
	if kind == KindParks {
		f.Name = first(tags, "Unnamed Park", "name", "name:en", "amenity", "leisure")
		f.Type = first(tags, "park", "leisure", "landuse", "amenity")
		f.Website = tags["website"]
	} else {
		f.Name = first(tags, "Unnamed Stop", "name", "ref", "name:en")
		f.Type = first(tags, "transit", "highway", "railway", "public_transport")
		f.Routes = tags["route_ref"]
	}
	f.MapsURL = GoogleMapsURL(lat, lon, first(tags, "", "addr:full", "addr:street"))
	return f
}

func first(tags map[string]string, fallback string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return fallback
}

// GoogleMapsURL links to an address search when address is set, otherwise
// to the coordinates.
func GoogleMapsURL(lat, lon float64, address string) string {
	if a := strings.TrimSpace(address); a != "" {
		return "https://www.google.com/maps/search/" + url.PathEscape(a)
	}
	return "https://www.google.com/maps/search/?api=1&query=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

// GeoJSON encodes f as a GeoJSON feature with its popup fields as properties.
func (f Feature) GeoJSON() *geojson.Feature {
	props := map[string]any{
		"kind":     string(f.Kind),
		"name":     f.Name,
		"type":     f.Type,
		"maps_url": f.MapsURL,
	}
	if f.Operator != "" {
		props["operator"] = f.Operator
	}
	if f.Routes != "" {
		props["routes"] = f.Routes
	}
	if f.Website != "" {
		props["website"] = f.Website
	}
	if len(f.Tags) > 0 {
		tags := make(map[string]any, len(f.Tags))
		for k, v := range f.Tags {
			tags[k] = v
		}
		props["tags"] = tags
	}
	return &geojson.Feature{Geometry: f.Geometry, Properties: props}
}

// FromGeoJSON is the inverse of Feature.GeoJSON.
func FromGeoJSON(gf *geojson.Feature) Feature {
	str := func(k string) string {
		s, _ := gf.Properties[k].(string)
		return s
	}
	f := Feature{
		Kind:     Kind(str("kind")),
		Geometry: gf.Geometry,
		Name:     str("name"),
		Type:     str("type"),
		Operator: str("operator"),
		Routes:   str("routes"),
		Website:  str("website"),
		MapsURL:  str("maps_url"),
		Tags:     map[string]string{},
	}
	if raw, ok := gf.Properties["tags"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				f.Tags[k] = s
			}
		}
	}
	return f
}

// Collection wraps features in a FeatureCollection.
func Collection(features []Feature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for _, f := range features {
		fc.Features = append(fc.Features, f.GeoJSON())
	}
	return fc
}
