package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBodyBytes = 2 * 1024 * 1024

// Request is one HTTP exchange against a bound host. Path may carry a query
// string, which is sent verbatim.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Cookie  string
	Form    url.Values
	Body    []byte
}

// Response is the part of an HTTP response the exploit inspects.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Sender sends a request to one host.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Options configures the shared HTTP client.
type Options struct {
	Timeout   time.Duration
	Proxy     string
	RateLimit float64 // requests per second and host, 0 = unlimited
	UserAgent string
}

// Client owns the pooled transport shared by every host of a run.
type Client struct {
	httpClient *http.Client
	opts       Options
}

// NewClient creates a client that never follows redirects and accepts
// self-signed certificates.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("network: invalid proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: opts,
	}, nil
}

// Endpoint is a Sender bound to one base URL (scheme://host:port).
type Endpoint struct {
	client  *Client
	base    *url.URL
	limiter *rate.Limiter
}

// Bind returns a Sender for baseURL. Each endpoint gets its own rate limiter.
func (c *Client) Bind(baseURL string) (*Endpoint, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("network: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("network: unsupported scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("network: base url %q has no host", baseURL)
	}
	base.Path, base.RawQuery, base.Fragment = "", "", ""

	ep := &Endpoint{client: c, base: base}
	if c.opts.RateLimit > 0 {
		burst := int(c.opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		ep.limiter = rate.NewLimiter(rate.Limit(c.opts.RateLimit), burst)
	}
	return ep, nil
}

// BaseURL returns the scheme://host:port this endpoint talks to.
func (e *Endpoint) BaseURL() string { return e.base.String() }

// Send performs the request. Any failure before a response is available is
// returned as a *TransportError; HTTP status codes are never errors.
func (e *Endpoint) Send(ctx context.Context, req Request) (*Response, error) {
	target := e.base.String() + NormalizeURI(req.Path)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Kind: classify(err), Op: method, URL: target, Err: err}
		}
	}

	body := req.Body
	if req.Form != nil {
		body = []byte(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: KindOther, Op: method, URL: target, Err: err}
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}
	if e.client.opts.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.client.opts.UserAgent)
	}

	resp, err := e.client.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: classify(err), Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, &TransportError{Kind: classify(err), Op: method, URL: target, Err: err}
	}
	if len(data) > maxResponseBodyBytes {
		return nil, &TransportError{Kind: KindBodyTooLarge, Op: method, URL: target, Err: ErrBodyTooLarge}
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// NormalizeURI forces a leading slash and collapses repeated slashes in the
// path component. The query string is left untouched.
func NormalizeURI(uri string) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if hasQuery {
		return path + "?" + query
	}
	return path
}
