package metric

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/precinct-map/internal/classify"
)

// NotAvailable is shown for precincts without a value.
const NotAvailable = "N/A"

var printer = message.NewPrinter(language.English)

// FormatValue renders an observation for display: "$87,500", "12.3%" or "28.4 min".
func (m Metric) FormatValue(o classify.Observation) string {
	v, ok := o.Float()
	if !ok {
		return NotAvailable
	}
	switch m.Type {
	case classify.TypeCurrency:
		return printer.Sprintf("$%d", int64(math.Round(v)))
	case classify.TypePercent:
		return strconv.FormatFloat(v, 'f', 1, 64) + "%"
	default:
		return strconv.FormatFloat(v, 'f', 1, 64) + m.Unit
	}
}

// FormatLegendValue renders a break for a legend label: "$40k", "20%" or "25 min".
func (m Metric) FormatLegendValue(v float64) string {
	switch m.Type {
	case classify.TypeCurrency:
		return "$" + strconv.FormatFloat(v/1000, 'f', 0, 64) + "k"
	case classify.TypePercent:
		return strconv.FormatFloat(v, 'f', 0, 64) + "%"
	default:
		return strconv.FormatFloat(v, 'f', 0, 64) + m.Unit
	}
}
