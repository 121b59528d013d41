package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// PageFetcher fetches a URL through the shared rate gate and retry policy.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (p *Page) HTML() string {
	return string(p.Body)
}

type Options struct {
	RequestDelay   time.Duration
	MaxRetries     int // Maximum attempts per URL
	Timeout        time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	Proxies        ProxySupplier
	Gate           *Gate // Shared rate gate; built from RequestDelay when nil
}

type Client struct {
	httpClient *resty.Client
	gate       *Gate
	proxies    ProxySupplier
	proxy      atomic.Pointer[url.URL] // Read by the transport for every request
	opts       Options

	// newBackOff builds the delay policy for one request
	newBackOff func() backoff.BackOff
}

func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/*,*/*;q=0.8").
		SetHeader("Accept-Language", "fa-IR,fa;q=0.9,en-US;q=0.5")
	if opts.UserAgent != "" {
		httpClient.SetHeader("User-Agent", opts.UserAgent)
	}

	c := &Client{
		httpClient: httpClient,
		gate:       opts.Gate,
		proxies:    opts.Proxies,
		opts:       opts,
	}
	if c.gate == nil {
		c.gate = NewGate(opts.RequestDelay)
	}
	c.newBackOff = func() backoff.BackOff {
		return newExponentialBackOff(c.opts.BackoffInitial, c.opts.BackoffMax)
	}

	if opts.Proxies != nil {
		// The transport is configured once; rotation only swaps c.proxy
		transport, err := httpClient.HTTPTransport()
		if err != nil {
			log.Errorf("❌ Proxies disabled, unexpected transport: %v", err)
			c.proxies = nil
		} else {
			transport.Proxy = c.proxyFor
			if proxyURL := opts.Proxies.Next(); proxyURL != "" && c.useProxy(proxyURL) {
				log.Infof("🔗 Using initial proxy: %s", proxyURL)
			}
		}
	}

	return c
}

// Gate exposes the shared rate gate.
func (c *Client) Gate() *Gate {
	return c.gate
}

// Fetch retrieves rawURL. Transient failures are retried with backoff up to
// MaxRetries attempts; the returned error is always a *FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Kind: Permanent, Err: err}
	}

	retrier := NewRetrier(c.opts.MaxRetries, c.newBackOff())
	retrier.Begin()

	for {
		page, retryAfter, err := c.attempt(ctx, rawURL)

		switch retrier.Report(err, retryAfter) {
		case StateSucceeded:
			return page, nil

		case StateExhausted:
			return nil, finalError(rawURL, retrier)

		case StateBackingOff:
			log.Debugf("🔄 Retrying %s in %v (attempt %d failed: %v)",
				rawURL, retrier.Wait().Round(time.Millisecond), retrier.Attempts(), err)

			select {
			case <-ctx.Done():
				return nil, &FetchError{URL: rawURL, Kind: Transient, Attempts: retrier.Attempts(), Err: ctx.Err()}
			case <-time.After(retrier.Wait()):
			}
			retrier.Resume()
		}
	}
}

func (c *Client) attempt(ctx context.Context, rawURL string) (*Page, time.Duration, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, 0, &FetchError{URL: rawURL, Kind: Transient, Err: err}
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, &FetchError{URL: rawURL, Kind: Transient, Err: fmt.Errorf("request cancelled: %w", ctx.Err())}
		}
		return nil, 0, &FetchError{URL: rawURL, Kind: classifyNetworkError(err), Err: err}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return &Page{
			URL:         rawURL,
			StatusCode:  code,
			ContentType: resp.Header().Get("Content-Type"),
			Body:        resp.Bytes(),
		}, 0, nil

	case code == http.StatusTooManyRequests:
		log.Warnf("🚫 Rate limited by site for URL: %s", rawURL)
		c.rotateProxy()
		return nil, parseRetryAfter(resp.Header()), &FetchError{URL: rawURL, Kind: Transient, StatusCode: code}

	case code == http.StatusRequestTimeout || code >= 500:
		return nil, 0, &FetchError{URL: rawURL, Kind: Transient, StatusCode: code}

	default:
		return nil, 0, &FetchError{URL: rawURL, Kind: Permanent, StatusCode: code}
	}
}

// rotateProxy moves later requests to the next proxy. Requests in flight keep
// the proxy they started with.
func (c *Client) rotateProxy() {
	if c.proxies == nil || c.proxies.Len() < 2 {
		return
	}
	if next := c.proxies.Next(); next != "" && c.useProxy(next) {
		log.Infof("🔄 Switching to proxy: %s", next)
	}
}

func (c *Client) useProxy(proxyURL string) bool {
	u, err := url.Parse(proxyURL)
	if err != nil {
		log.Warnf("⚠️ Ignoring malformed proxy %s: %v", proxyURL, err)
		return false
	}
	c.proxy.Store(u)
	return true
}

func (c *Client) proxyFor(*http.Request) (*url.URL, error) {
	return c.proxy.Load(), nil
}

func finalError(rawURL string, r *Retrier) error {
	var fe *FetchError
	if errors.As(r.Err(), &fe) {
		out := *fe
		out.Attempts = r.Attempts()
		return &out
	}
	return &FetchError{URL: rawURL, Kind: Transient, Attempts: r.Attempts(), Err: r.Err()}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrMalformedURL, rawURL)
	}
	return nil
}

// classifyNetworkError treats a host that does not resolve as permanent and
// every other transport failure as transient.
func classifyNetworkError(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return Permanent
	}
	return Transient
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
