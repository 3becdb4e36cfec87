package census

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ProfileURL builds the ACS profile request for a tract.
func (c *client) ProfileURL(t Tract, codes []string) string {
	params := url.Values{}
	params.Set("get", strings.Join(codes, ","))
	params.Set("for", "tract:"+t.Tract)
	params.Add("in", "state:"+t.State)
	params.Add("in", "county:"+t.County)
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	return fmt.Sprintf("%s/%d/acs/acs5/profile?%s", strings.TrimRight(c.apiBase, "/"), c.year, params.Encode())
}

// TractProfile fetches codes for the tract of fips. The API answers with a
// header row and one data row; cells are matched to codes by header name.
func (c *client) TractProfile(ctx context.Context, fips string, codes []string) (Profile, error) {
	if len(codes) == 0 {
		return Profile{}, nil
	}
	tract, err := SplitFIPS(fips)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "census: profile rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ProfileURL(tract, codes), nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: profile build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: profile request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return emptyProfile(codes), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Service: "acs profile", StatusCode: resp.StatusCode}
	}

	var table [][]*string
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, eris.Wrap(err, "census: profile parse response")
	}
	if len(table) < 2 {
		return emptyProfile(codes), nil
	}

	col := make(map[string]int, len(table[0]))
	for i, h := range table[0] {
		if h != nil {
			col[*h] = i
		}
	}

	out := make(Profile, len(codes))
	for _, code := range codes {
		idx, ok := col[code]
		if !ok || idx >= len(table[1]) {
			out[code] = Estimate{}
			continue
		}
		out[code] = parseEstimate(table[1][idx])
	}
	return out, nil
}

func parseEstimate(cell *string) Estimate {
	if cell == nil {
		return Estimate{}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*cell), 64)
	if err != nil || v < 0 {
		return Estimate{}
	}
	return Estimate{Value: v, OK: true}
}

func emptyProfile(codes []string) Profile {
	out := make(Profile, len(codes))
	for _, code := range codes {
		out[code] = Estimate{}
	}
	return out
}
