package classify

// LegendEntry describes one bucket of a Scale.
type LegendEntry struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Color string  `json:"color"`
	Label string  `json:"label"`
}

// Legend lists one entry per interval of s, labelled with format. An empty
// scale has no legend.
func (s Scale) Legend(format func(float64) string) []LegendEntry {
	if len(s.Breaks) < 2 || len(s.Palette) == 0 {
		return nil
	}
	entries := make([]LegendEntry, 0, len(s.Breaks)-1)
	for i := 0; i < len(s.Breaks)-1; i++ {
		from, to := s.Breaks[i], s.Breaks[i+1]
		color := s.Palette[min(i, len(s.Palette)-1)]
		entries = append(entries, LegendEntry{
			From:  from,
			To:    to,
			Color: color,
			Label: format(from) + "–" + format(to),
		})
	}
	return entries
}
