package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arbwatch/internal/application/port"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

// RESTClient performs public GET requests for one venue and classifies failures
// into the port fetch-error kinds.
type RESTClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient builds a client; rps <= 0 disables local rate limiting.
func NewRESTClient(name, baseURL string, httpClient *http.Client, rps float64) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &RESTClient{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

func (c *RESTClient) BaseURL() string { return c.baseURL }

// GetJSON requests path with query and decodes a 200 response into v.
func (c *RESTClient) GetJSON(ctx context.Context, path string, query url.Values, v any) error {
	if c.limiter != nil {
		r := c.limiter.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			fe := port.NewFetchError(c.name, port.ErrRateLimited, errors.New("local request budget exhausted"))
			fe.RetryAfter = d
			return fe
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return port.NewFetchError(c.name, port.ErrMalformedResponse, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return port.NewFetchError(c.name, port.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return port.NewFetchError(c.name, port.ErrNetwork, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		// 418 is binance's ban-after-429
		fe := port.NewFetchError(c.name, port.ErrRateLimited, fmt.Errorf("http %d", resp.StatusCode))
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return fe
	case resp.StatusCode >= 500:
		return port.NewFetchError(c.name, port.ErrNetwork, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body)))
	default:
		return port.NewFetchError(c.name, port.ErrMalformedResponse, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body)))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return port.NewFetchError(c.name, port.ErrMalformedResponse, fmt.Errorf("json unmarshal: %w", err))
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
