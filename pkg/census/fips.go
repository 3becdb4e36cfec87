package census

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Tract identifies a census tract.
type Tract struct {
	State  string
	County string
	Tract  string
}

// GEOID returns the 11-digit tract GEOID.
func (t Tract) GEOID() string { return t.State + t.County + t.Tract }

// SplitFIPS splits a tract (11 digit) or block (15 digit) FIPS code into its
// state, county and tract parts.
func SplitFIPS(fips string) (Tract, error) {
	fips = strings.TrimSpace(fips)
	if len(fips) < 11 {
		return Tract{}, eris.Errorf("census: fips %q shorter than 11 digits", fips)
	}
	for _, r := range fips {
		if r < '0' || r > '9' {
			return Tract{}, eris.Errorf("census: fips %q is not numeric", fips)
		}
	}
	return Tract{State: fips[0:2], County: fips[2:5], Tract: fips[5:11]}, nil
}
