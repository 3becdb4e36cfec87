package precinct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	features := []Feature{
		{Geometry: square(-118.4, 33.8, 0.01), Properties: map[string]any{"PRECINCT": float64(1001), "NAME": "Boundary name"}},
		{Geometry: square(-118.3, 33.8, 0.01), Properties: map[string]any{"PRECINCT": "1002"}},
		{Geometry: square(-118.2, 33.8, 0.01), Properties: map[string]any{"PRECINCT": "9999"}},
		{Geometry: square(-118.1, 33.8, 0.01), Properties: map[string]any{}},
	}
	rows := []Row{
		{"Precinct_ID": "1001", "Name": "North", "FIPS": "06037650901"},
		{"Precinct_ID": "1002.0", "Registered": float64(500)},
		{"Precinct_ID": "2000"},
	}

	set, stats := Merge(features, rows, DefaultMergeOptions())
	assert.Equal(t, MergeStats{Features: 4, Rows: 3, Matched: 2, Unmatched: 2}, stats)
	require.Equal(t, 2, set.Len())

	north, ok := set.Get("1001")
	require.True(t, ok)
	assert.Equal(t, "North", north.Name)
	assert.Equal(t, "06037650901", north.FIPS)
	assert.Equal(t, "Boundary name", north.Properties["NAME"])

	south, ok := set.Get("1002")
	require.True(t, ok)
	assert.Equal(t, "1002", south.Name)
	assert.Equal(t, float64(500), south.Properties["Registered"])

	_, ok = set.Get("9999")
	assert.False(t, ok, "features without a CSV row are dropped")
}

func TestMerge_DefaultsEmptyOptions(t *testing.T) {
	features := []Feature{{Properties: map[string]any{"PRECINCT": "1"}}}
	set, _ := Merge(features, []Row{{"Precinct_ID": "1"}}, MergeOptions{})
	assert.Equal(t, 1, set.Len())
}

func TestFromFeatures(t *testing.T) {
	features := []Feature{
		{ID: "a", Properties: map[string]any{"VTDST20": "000101", "NAME20": "One"}},
		{ID: "b", Properties: map[string]any{}},
	}
	set := FromFeatures(features, "VTDST20")
	require.Equal(t, 1, set.Len())
	p, ok := set.Get("101")
	require.True(t, ok)
	assert.Equal(t, "101", p.ID)

	byFeatureID := FromFeatures(features, "")
	assert.Equal(t, 2, byFeatureID.Len())
}
