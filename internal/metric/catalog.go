// Package metric defines the catalog of ACS metrics the map can display.
package metric

import (
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/precinct-map/internal/classify"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Metric is one displayable ACS variable.
type Metric struct {
	Key         string             `yaml:"key" json:"key"`
	Title       string             `yaml:"title" json:"title"`
	LegendTitle string             `yaml:"legend_title" json:"legend_title"`
	Variable    string             `yaml:"variable" json:"variable"`
	Unit        string             `yaml:"unit" json:"unit"`
	Type        classify.ValueType `yaml:"type" json:"type"`
	Chunk       string             `yaml:"chunk" json:"chunk"`
	Palette     []string           `yaml:"palette" json:"palette"`
	FixedBreaks []float64          `yaml:"fixed_breaks,omitempty" json:"fixed_breaks,omitempty"`

	scheme classify.Scheme
}

// Scheme returns the classification scheme chosen for m when the catalog was built.
func (m Metric) Scheme() classify.Scheme { return m.scheme }

// Chunk is a group of ACS variables fetched together.
type Chunk struct {
	Key       string   `yaml:"key" json:"key"`
	Name      string   `yaml:"name" json:"name"`
	Variables []string `yaml:"variables" json:"variables"`
}

// File is the on-disk YAML layout of a catalog.
type File struct {
	Chunks  []Chunk  `yaml:"chunks"`
	Metrics []Metric `yaml:"metrics"`
}

// Catalog is an immutable, validated set of metrics and chunks. Build it once
// and pass it to whatever needs it.
type Catalog struct {
	metrics []Metric
	byKey   map[string]int
	chunks  []Chunk
	byChunk map[string]int
}

// New validates chunks and metrics and builds a Catalog.
func New(chunks []Chunk, metrics []Metric) (*Catalog, error) {
	c := &Catalog{
		byKey:   make(map[string]int, len(metrics)),
		byChunk: make(map[string]int, len(chunks)),
	}

	for _, ch := range chunks {
		if ch.Key == "" {
			return nil, eris.New("metric: chunk key is required")
		}
		if _, dup := c.byChunk[ch.Key]; dup {
			return nil, eris.Errorf("metric: duplicate chunk %q", ch.Key)
		}
		if len(ch.Variables) == 0 {
			return nil, eris.Errorf("metric: chunk %q has no variables", ch.Key)
		}
		ch.Variables = slices.Clone(ch.Variables)
		c.byChunk[ch.Key] = len(c.chunks)
		c.chunks = append(c.chunks, ch)
	}

	for _, m := range metrics {
		if err := validate(m); err != nil {
			return nil, err
		}
		if _, dup := c.byKey[m.Key]; dup {
			return nil, eris.Errorf("metric: duplicate metric %q", m.Key)
		}
		idx, ok := c.byChunk[m.Chunk]
		if !ok {
			return nil, eris.Errorf("metric: %s references unknown chunk %q", m.Key, m.Chunk)
		}
		if !slices.Contains(c.chunks[idx].Variables, m.Variable) {
			return nil, eris.Errorf("metric: %s variable is not part of chunk %q", m.Key, m.Chunk)
		}

		m.Palette = slices.Clone(m.Palette)
		m.FixedBreaks = slices.Clone(m.FixedBreaks)
		m.scheme = classify.Scheme{
			Type:    m.Type,
			Palette: m.Palette,
			Static:  classify.StaticStrategy(m.Type, m.FixedBreaks),
			Fixed:   m.FixedBreaks,
		}
		c.byKey[m.Key] = len(c.metrics)
		c.metrics = append(c.metrics, m)
	}

	if len(c.metrics) == 0 {
		return nil, eris.New("metric: catalog has no metrics")
	}
	return c, nil
}

func validate(m Metric) error {
	if m.Key == "" {
		return eris.New("metric: key is required")
	}
	if m.Variable == "" {
		return eris.Errorf("metric: %s has no variable", m.Key)
	}
	if !m.Type.Valid() {
		return eris.Errorf("metric: %s has unknown type %q", m.Key, m.Type)
	}
	if len(m.Palette) == 0 {
		return eris.Errorf("metric: %s has an empty palette", m.Key)
	}
	for _, color := range m.Palette {
		if !hexColor.MatchString(color) {
			return eris.Errorf("metric: %s palette color %q is not #RRGGBB", m.Key, color)
		}
		if strings.EqualFold(color, classify.NoDataColor) {
			return eris.Errorf("metric: %s palette uses the no-data color", m.Key)
		}
	}
	if len(m.FixedBreaks) > 0 {
		if len(m.FixedBreaks) != len(m.Palette)+1 {
			return eris.Errorf("metric: %s needs %d fixed breaks, got %d", m.Key, len(m.Palette)+1, len(m.FixedBreaks))
		}
		for i := 1; i < len(m.FixedBreaks); i++ {
			if m.FixedBreaks[i] <= m.FixedBreaks[i-1] {
				return eris.Errorf("metric: %s fixed breaks must be strictly increasing", m.Key)
			}
		}
	}
	return nil
}

// MustNew is New that panics on error. Use it for compiled-in catalogs only.
func MustNew(chunks []Chunk, metrics []Metric) *Catalog {
	c, err := New(chunks, metrics)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads and validates a YAML catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "metric: read catalog %s", path)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "metric: parse catalog")
	}
	return New(f.Chunks, f.Metrics)
}

// File returns the catalog in its YAML layout.
func (c *Catalog) File() File {
	return File{Chunks: c.Chunks(), Metrics: c.Metrics()}
}

// WriteFile writes the catalog as YAML to path.
func (c *Catalog) WriteFile(path string) error {
	data, err := yaml.Marshal(c.File())
	if err != nil {
		return eris.Wrap(err, "metric: marshal catalog")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "metric: write catalog %s", path)
	}
	return nil
}

// Get returns the metric with key.
func (c *Catalog) Get(key string) (Metric, bool) {
	idx, ok := c.byKey[key]
	if !ok {
		return Metric{}, false
	}
	return c.metrics[idx], true
}

// Metrics returns every metric in definition order.
func (c *Catalog) Metrics() []Metric { return slices.Clone(c.metrics) }

// Chunk returns the chunk with key.
func (c *Catalog) Chunk(key string) (Chunk, bool) {
	idx, ok := c.byChunk[key]
	if !ok {
		return Chunk{}, false
	}
	return c.chunks[idx], true
}

// Chunks returns every chunk in definition order.
func (c *Catalog) Chunks() []Chunk { return slices.Clone(c.chunks) }

// Variables returns the distinct variables of all chunks, in chunk order.
func (c *Catalog) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ch := range c.chunks {
		for _, v := range ch.Variables {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// MetricByVariable returns the metric displaying variable, if any.
func (c *Catalog) MetricByVariable(variable string) (Metric, bool) {
	for _, m := range c.metrics {
		if m.Variable == variable {
			return m, true
		}
	}
	return Metric{}, false
}
