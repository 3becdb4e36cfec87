package census

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

type fccResponse struct {
	Block struct {
		FIPS string `json:"FIPS"`
	} `json:"Block"`
	Status string `json:"status"`
}

// StatusError is returned for non-200 responses so callers can decide
// whether to retry.
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return "census: " + e.Service + " returned status " + strconv.Itoa(e.StatusCode)
}

// BlockFIPS finds the census block containing (lat, lon).
func (c *client) BlockFIPS(ctx context.Context, lat, lon float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "census: fcc rate limit")
	}

	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":    {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fccURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", eris.Wrap(err, "census: fcc build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "census: fcc request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Service: "fcc", StatusCode: resp.StatusCode}
	}

	var out fccResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "census: fcc parse response")
	}
	if out.Block.FIPS == "" {
		return "", eris.Errorf("census: no block at %f,%f", lat, lon)
	}
	return out.Block.FIPS, nil
}
