// Package census looks up tract FIPS codes through the FCC block API and
// reads ACS 5-year profile estimates from the Census Data API.
package census

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIBase = "https://api.census.gov/data"
	defaultFCCURL  = "https://geo.fcc.gov/api/census/block/find"
	defaultYear    = 2022
)

// Client talks to the FCC and Census APIs.
type Client interface {
	// BlockFIPS returns the 15-digit census block FIPS containing the point.
	BlockFIPS(ctx context.Context, lat, lon float64) (string, error)

	// TractProfile fetches ACS profile variables (by code) for the tract
	// containing fips.
	TractProfile(ctx context.Context, fips string, codes []string) (Profile, error)
}

// Estimate is one profile value. OK is false when the API reported no data
// (a negative annotation value such as -666666666) or a non-numeric cell.
type Estimate struct {
	Value float64
	OK    bool
}

// Profile maps variable codes to estimates.
type Profile map[string]Estimate

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets the HTTP client used for both APIs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the request rate shared by both APIs.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithAPIKey adds a Census Data API key to profile requests.
func WithAPIKey(key string) Option {
	return func(c *client) { c.apiKey = key }
}

// WithBaseURL overrides the Census Data API root (https://api.census.gov/data).
func WithBaseURL(u string) Option {
	return func(c *client) { c.apiBase = u }
}

// WithFCCURL overrides the FCC block lookup endpoint.
func WithFCCURL(u string) Option {
	return func(c *client) { c.fccURL = u }
}

// WithYear selects the ACS 5-year vintage.
func WithYear(year int) Option {
	return func(c *client) {
		if year > 0 {
			c.year = year
		}
	}
}

type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	apiBase    string
	fccURL     string
	year       int
}

// NewClient creates a Client. Requests are spaced 150ms apart by default.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
		apiBase:    defaultAPIBase,
		fccURL:     defaultFCCURL,
		year:       defaultYear,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
