package overpass

import (
	"fmt"
	"strconv"
	"strings"
)

// BBox is a south,west,north,east box in degrees.
type BBox struct {
	South, West, North, East float64
}

func (b BBox) String() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
	}, ",")
}

var transitSelectors = []string{
	`node["highway"="bus_stop"]`,
	`node["railway"="station"]`,
	`node["public_transport"="stop_position"]`,
	`node["public_transport"="platform"]`,
	`way["railway"="station"]`,
	`way["public_transport"="station"]`,
}

var parkSelectors = []string{
	`node["leisure"="park"]`,
	`node["leisure"="garden"]`,
	`node["leisure"="playground"]`,
	`node["leisure"="nature_reserve"]`,
	`node["leisure"="sports_centre"]`,
	`node["leisure"="recreation_ground"]`,
	`node["amenity"="park"]`,
	`node["amenity"="community_centre"]`,
	`node["landuse"="recreation_ground"]`,
	`node["landuse"="forest"]`,
	`node["landuse"="grass"]`,
	`node["natural"="wood"]`,
	`node["natural"="grassland"]`,
	`way["leisure"="park"]`,
	`way["leisure"="garden"]`,
	`way["leisure"="nature_reserve"]`,
	`way["leisure"="recreation_ground"]`,
	`way["leisure"="sports_centre"]`,
	`way["landuse"="recreation_ground"]`,
	`way["landuse"="forest"]`,
	`way["landuse"="grass"]`,
	`way["landuse"="greenfield"]`,
	`way["natural"="wood"]`,
	`way["natural"="grassland"]`,
	`way["amenity"="community_centre"]`,
	`relation["leisure"="park"]`,
	`relation["leisure"="nature_reserve"]`,
	`relation["landuse"="recreation_ground"]`,
	`relation["landuse"="forest"]`,
	`relation["natural"="wood"]`,
}

// TransitQuery selects bus stops, stations and platforms inside b.
func TransitQuery(b BBox) string {
	return build(b, transitSelectors, "out body center;")
}

// ParksQuery selects parks, gardens, green land use and community centres
// inside b, with way geometry.
func ParksQuery(b BBox) string {
	return build(b, parkSelectors, "out body geom center tags;")
}

func build(b BBox, selectors []string, out string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:25][bbox:%s];\n(\n", b)
	for _, s := range selectors {
		sb.WriteString("  ")
		sb.WriteString(s)
		sb.WriteString(";\n")
	}
	sb.WriteString(");\n")
	sb.WriteString(out)
	return sb.String()
}
