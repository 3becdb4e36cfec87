package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/precinct-map/internal/metrics"
	"github.com/sells-group/precinct-map/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff overrides the initial retry pause.
	RetryBackoff time.Duration
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher implements Fetcher over net/http with per-host rate limits and
// retries on 408, 429, 5xx and network errors.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// DefaultRateLimiters returns per-host limiters for the data hosts this tool talks to.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"api.census.gov":             rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
		"geo.fcc.gov":                rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
		"overpass-api.de":            rate.NewLimiter(1, 1),
		"gist.githubusercontent.com": rate.NewLimiter(5, 5),
		"raw.githubusercontent.com":  rate.NewLimiter(5, 5),
		"www2.census.gov":            rate.NewLimiter(2, 2),
	}
}

// NewHTTPFetcher creates an HTTPFetcher. Hosts without a limiter share one at 20 req/s.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "precinct-map/1.0"
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: limiters,
		fallback: rate.NewLimiter(20, 20),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	return f.fallback
}

func (f *HTTPFetcher) policy(rawURL string) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Attempts = f.opts.MaxRetries
	if f.opts.RetryBackoff > 0 {
		p.Initial = f.opts.RetryBackoff
	}
	p.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return p
}

// do sends req with rate limiting and retries. Any status that is not retried
// is returned to the caller with its body open.
func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	lim := f.limiterFor(host)

	return resilience.DoVal(ctx, f.policy(req.URL.String()), func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		start := time.Now()
		resp, err := f.client.Do(req.Clone(ctx))
		metrics.UpstreamDurationMs.WithLabelValues(host).Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(host, "error").Inc()
			return nil, eris.Wrapf(err, "fetcher: %s %s", req.Method, req.URL.Redacted())
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			return nil, resilience.Transient(
				eris.Errorf("fetcher: http %d from %s", resp.StatusCode, req.URL.Redacted()),
				resp.StatusCode,
			)
		}
		return resp, nil
	})
}

func (f *HTTPFetcher) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return req, nil
}

// Download fetches rawURL and returns the body. Non-200 responses are errors.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadIfChanged fetches rawURL with If-None-Match and reports whether the
// content changed since etag.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "fetcher: download if changed")
	}
	switch resp.StatusCode {
	case http.StatusNotModified:
		_ = resp.Body.Close()
		return nil, etag, false, nil
	case http.StatusOK:
		return resp.Body, resp.Header.Get("ETag"), true, nil
	default:
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
}
