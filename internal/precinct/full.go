package precinct

import (
	"strconv"
	"strings"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/metric"
)

// FullRecord is one element of the full-overlay JSON array: precinct columns
// plus an "ACS_2022" object of variable label to value.
type FullRecord map[string]any

// ACSKey is the nested object holding ACS values in a FullRecord.
const ACSKey = "ACS_2022"

// Flatten merges the nested ACS object into the top level. Nested values win.
func (r FullRecord) Flatten() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if k != ACSKey {
			out[k] = v
		}
	}
	if nested, ok := r[ACSKey].(map[string]any); ok {
		for k, v := range nested {
			out[k] = v
		}
	}
	return out
}

// ApplyStats summarises ApplyFull.
type ApplyStats struct {
	Records  int `json:"records"`
	Matched  int `json:"matched"`
	Values   int `json:"values"`
	Rejected int `json:"rejected"`
	Skipped  int `json:"skipped"`
}

// ApplyFull loads full-overlay records onto matching precincts. Records
// without an ACS object are skipped and leave their precinct untouched. Every chunk
// variable of a matched precinct ends up fetched: a usable number becomes a
// Value, anything else Missing. Percent values above 100 are raw counts that
// slipped into the file and are rejected.
func ApplyFull(set *Set, records []FullRecord, catalog *metric.Catalog) ApplyStats {
	stats := ApplyStats{Records: len(records)}
	variables := catalog.Variables()

	for _, rec := range records {
		if _, ok := rec[ACSKey].(map[string]any); !ok {
			stats.Skipped++
			continue
		}
		flat := rec.Flatten()
		p, ok := set.Get(NormalizeID(flat["Precinct_ID"]))
		if !ok {
			continue
		}
		stats.Matched++

		if fips := fipsProp(flat, "FIPS", "GEOID"); fips != "" && p.FIPS == "" {
			p.FIPS = fips
		}

		for _, v := range variables {
			raw, present := flat[v]
			if !present {
				p.SetObservation(v, classify.Missing())
				continue
			}
			o := parseObservation(raw)
			if val, ok := o.Float(); ok && isPercent(catalog, v) && val > 100 {
				stats.Rejected++
				o = classify.Missing()
			}
			if o.Kind() == classify.KindValue {
				stats.Values++
			}
			p.SetObservation(v, o)
		}
	}
	return stats
}

func parseObservation(raw any) classify.Observation {
	switch t := raw.(type) {
	case float64:
		return classify.FromSource(t)
	case int:
		return classify.FromSource(float64(t))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return classify.Missing()
		}
		return classify.FromSource(f)
	default:
		return classify.Missing()
	}
}

func isPercent(catalog *metric.Catalog, variable string) bool {
	if m, ok := catalog.MetricByVariable(variable); ok {
		return m.Type == classify.TypePercent
	}
	return strings.HasPrefix(variable, "Percent!!")
}
