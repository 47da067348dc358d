package client

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/version"
)

const (
	defaultRetryMinWait = 100 * time.Millisecond
	defaultRetryMaxWait = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter    = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in Backoff

	defaultConnectTimeout = 5 * time.Second
	defaultIdleTimeout    = 30 * time.Second
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	ForceHTTP2     bool
	MaxRetries     int
	ConnectTimeout time.Duration
	// IdleTimeout bounds the time a range request may go without receiving a byte, including
	// the wait for response headers. Each attempt of a metadata request must complete within it.
	IdleTimeout  time.Duration
	RetryMinWait time.Duration
	RetryMaxWait time.Duration
	// RateLimit caps the combined body throughput of all requests in bytes per second.
	RateLimit int64
	// Headers are added to every request.
	Headers map[string]string
	// ResolveOverrides maps host:port to ip:port, bypassing DNS for the dial only.
	ResolveOverrides map[string]string
	// Transport replaces the network transport, mostly for tests.
	Transport http.RoundTripper
}

// Client is the transport used by a transfer. Metadata requests are retried internally;
// range requests are issued once and the caller owns the retry loop, because a retry has to
// resume at whatever offset the previous attempt reached.
type Client struct {
	opts    Options
	probe   *http.Client
	fetch   *http.Client
	limiter *rate.Limiter
}

// userAgentTransport stamps the User-Agent and configured headers on each request.
type userAgentTransport struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	return t.Transport.RoundTrip(req)
}

func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.RetryMinWait <= 0 {
		opts.RetryMinWait = defaultRetryMinWait
	}
	if opts.RetryMaxWait < opts.RetryMinWait {
		opts.RetryMaxWait = max(defaultRetryMaxWait, opts.RetryMinWait)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	base := opts.Transport
	if base == nil {
		base = newTransport(opts)
	}
	transport := &userAgentTransport{Transport: base, Headers: opts.Headers}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
			Timeout:       opts.IdleTimeout,
		},
		Logger:       nil,
		RetryWaitMin: opts.RetryMinWait,
		RetryWaitMax: opts.RetryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   RetryPolicy,
		Backoff:      backoffFunc,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	c := &Client{
		opts:  opts,
		probe: retryClient.StandardClient(),
		fetch: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
		},
	}
	if opts.RateLimit > 0 {
		c.limiter = newLimiter(opts.RateLimit)
	}
	return c
}

func newTransport(opts Options) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: transportDialContext(&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}, opts.ResolveOverrides),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// byte ranges must address the stored representation, not a recompressed one
		DisableCompression: true,
	}
	if !opts.ForceHTTP2 {
		return transport
	}
	transport.TLSClientConfig = &tls.Config{NextProtos: []string{"h2"}}
	return transport
}

// Backoff returns how long to wait before retry number attempt (starting at 1).
func (c *Client) Backoff(attempt int) time.Duration {
	return backoffFunc(c.opts.RetryMinWait, c.opts.RetryMaxWait, attempt, nil)
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that adds a random jitter, so
// that segments failing together do not retry in lockstep.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// checkRedirectFunc logs redirects and keeps the default limit of 10.
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errTooManyRedirects
	}
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", req.Response.StatusCode).
		Msg("Redirect")
	return nil
}

// transportDialContext overrides DNS lookups with the values passed to `--resolve`, without
// impacting Host and SNI.
func transportDialContext(dialer *net.Dialer, overrides map[string]string) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := overrides[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}
