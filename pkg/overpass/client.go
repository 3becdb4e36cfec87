// Package overpass queries OpenStreetMap through the Overpass API and turns
// the answers into transit stop and park features.
package overpass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultEndpoint = "https://overpass-api.de/api/interpreter"

// Client runs Overpass QL queries.
type Client interface {
	Query(ctx context.Context, ql string) (*Response, error)
}

// Point is a lat/lon pair as Overpass reports it.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is a node, way or relation from an Overpass response.
type Element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat,omitempty"`
	Lon      float64           `json:"lon,omitempty"`
	Center   *Point            `json:"center,omitempty"`
	Geometry []Point           `json:"geometry,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Response is the JSON body of an interpreter call.
type Response struct {
	Elements []Element `json:"elements"`
	Remark   string    `json:"remark,omitempty"`
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "overpass: request failed with status " + strconv.Itoa(e.StatusCode)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithEndpoint overrides the interpreter URL.
func WithEndpoint(u string) Option {
	return func(c *client) { c.endpoint = u }
}

type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoint   string
}

// NewClient creates a Client. The public instance asks for at most one
// request per second.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		endpoint:   defaultEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query posts ql as the form field "data".
func (c *client) Query(ctx context.Context, ql string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limit")
	}

	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "overpass: parse response")
	}
	return &out, nil
}
