// Package transport routes outbound requests through a specific proxy.
//
// One resty client is kept per proxy so connection reuse and pacing are
// scoped to a single egress point.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/guttosm/equitypanel/internal/domain/models"
)

// Response is the part of an HTTP response the pipeline looks at.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Getter issues a GET through the given proxy. A returned error means the
// request never produced a response (dial, TLS, timeout, cancellation).
type Getter interface {
	Get(ctx context.Context, proxy models.Proxy, rawURL string, headers map[string]string) (*Response, error)
}

// Client implements Getter on top of resty.
type Client struct {
	timeout    time.Duration
	ratePerSec float64
	userAgent  string

	mu      sync.Mutex
	clients map[string]*resty.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request. Hanging connections end here, not in the retry loops.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRatePerProxy paces requests per proxy. Zero disables pacing.
func WithRatePerProxy(perSec float64) Option {
	return func(c *Client) { c.ratePerSec = perSec }
}

// WithUserAgent overrides the default browser user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// DefaultUserAgent mimics a desktop Chrome build; the upstream rejects obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// NewClient creates a Client with a 30s timeout and no pacing.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout:   30 * time.Second,
		userAgent: DefaultUserAgent,
		clients:   make(map[string]*resty.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs the request through proxy.
func (c *Client) Get(ctx context.Context, proxy models.Proxy, rawURL string, headers map[string]string) (*Response, error) {
	rc := c.clientFor(proxy)

	res, err := rc.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("get %s via %s: %w", rawURL, proxy, err)
	}
	return &Response{StatusCode: res.StatusCode(), Body: res.Body()}, nil
}

// Forget drops the cached client of a proxy that left the pool and closes
// its idle keep-alive connections.
func (c *Client) Forget(proxy models.Proxy) {
	key := proxy.URL().String()

	c.mu.Lock()
	rc, ok := c.clients[key]
	delete(c.clients, key)
	c.mu.Unlock()

	if ok {
		rc.GetClient().CloseIdleConnections()
	}
}

func (c *Client) clientFor(proxy models.Proxy) *resty.Client {
	key := proxy.URL().String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.clients[key]; ok {
		return rc
	}

	rc := resty.New().
		SetProxy(key).
		SetTimeout(c.timeout).
		SetHeader("User-Agent", c.userAgent)

	if c.ratePerSec > 0 {
		// burst 1: requests through one proxy are strictly serialized in time
		limiter := rate.NewLimiter(rate.Limit(c.ratePerSec), 1)
		rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	c.clients[key] = rc
	return rc
}
