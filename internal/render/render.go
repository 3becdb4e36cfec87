// Package render turns a classified metric into styled GeoJSON, a legend
// and precinct summaries.
package render

import (
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/metrics"
	"github.com/sells-group/precinct-map/internal/precinct"
)

// Fixed polygon styling.
const (
	FillOpacity = 0.7
	Weight      = 2
	Opacity     = 1
	StrokeColor = "white"
)

// Options controls one render.
type Options struct {
	// Dynamic derives breaks from the visible values instead of the metric's static strategy.
	Dynamic bool
	// Viewport limits the values that shape the breaks. Nil means every precinct.
	Viewport *precinct.Viewport
}

// Map is a rendered choropleth. Features and Legend share Scale.
type Map struct {
	Metric   metric.Metric              `json:"metric"`
	Strategy string                     `json:"strategy"`
	Scale    classify.Scale             `json:"scale"`
	Legend   []classify.LegendEntry     `json:"legend"`
	Values   int                        `json:"values"`
	Features *geojson.FeatureCollection `json:"features"`
}

// Classify computes the scale of metricKey over the precincts inside opts.Viewport.
func Classify(set *precinct.Set, catalog *metric.Catalog, metricKey string, opts Options) (metric.Metric, classify.Scale, int, error) {
	m, ok := catalog.Get(metricKey)
	if !ok {
		return metric.Metric{}, classify.Scale{}, 0, eris.Errorf("render: unknown metric %q", metricKey)
	}
	values := set.Values(m.Variable, opts.Viewport)
	return m, classify.Classify(values, m.Scheme(), opts.Dynamic), len(values), nil
}

// Legend returns the legend of scale labelled in m's units.
func Legend(m metric.Metric, scale classify.Scale) []classify.LegendEntry {
	entries := scale.Legend(m.FormatLegendValue)
	if entries == nil {
		return []classify.LegendEntry{}
	}
	return entries
}

// Render styles every precinct of set for metricKey. Without any values each
// feature gets the no-data color and the legend is empty.
func Render(set *precinct.Set, catalog *metric.Catalog, metricKey string, opts Options) (*Map, error) {
	m, scale, n, err := Classify(set, catalog, metricKey, opts)
	if err != nil {
		return nil, err
	}

	all := set.All()
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(all))}
	for _, p := range all {
		fc.Features = append(fc.Features, feature(p, m, scale))
	}
	if b := set.Bounds(); b != nil && !b.IsEmpty() {
		fc.BBox = b
	}

	metrics.RendersTotal.WithLabelValues(m.Key, scale.Strategy.String()).Inc()
	return &Map{
		Metric:   m,
		Strategy: scale.Strategy.String(),
		Scale:    scale,
		Legend:   Legend(m, scale),
		Values:   n,
		Features: fc,
	}, nil
}

func feature(p *precinct.Precinct, m metric.Metric, scale classify.Scale) *geojson.Feature {
	o := p.Observation(m.Variable)
	props := map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"fill_color":      scale.Color(o),
		"fill_opacity":    FillOpacity,
		"weight":          Weight,
		"opacity":         Opacity,
		"color":           StrokeColor,
		"value":           nil,
		"formatted_value": m.FormatValue(o),
	}
	if v, ok := o.Float(); ok {
		props["value"] = v
	}
	if p.FIPS != "" {
		props["fips"] = p.FIPS
	}
	f := &geojson.Feature{ID: p.ID, Properties: props}
	if p.Geometry != nil {
		f.Geometry = p.Geometry
	}
	return f
}

// InfoRow is one line of a precinct summary.
type InfoRow struct {
	Metric string `json:"metric"`
	Title  string `json:"title"`
	Value  string `json:"value"`
	Active bool   `json:"active,omitempty"`
}

// InfoPanel summarises a precinct.
type InfoPanel struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	FIPS string    `json:"fips,omitempty"`
	Rows []InfoRow `json:"rows"`
}

// Info builds the info panel of p: the standard metrics plus active when it
// is not one of them. An unknown active metric is ignored.
func Info(p *precinct.Precinct, catalog *metric.Catalog, active string) InfoPanel {
	info := InfoPanel{ID: p.ID, Name: p.Name, FIPS: p.FIPS}
	keys := slices.Clone(metric.InfoMetrics)
	if active != "" && !slices.Contains(keys, active) {
		keys = append(keys, active)
	}
	for _, k := range keys {
		m, ok := catalog.Get(k)
		if !ok {
			continue
		}
		info.Rows = append(info.Rows, InfoRow{
			Metric: m.Key,
			Title:  m.LegendTitle,
			Value:  m.FormatValue(p.Observation(m.Variable)),
			Active: k == active,
		})
	}
	return info
}
