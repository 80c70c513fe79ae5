// Package remote implements random-access readers over HTTP resources.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "httpfuse"
	defaultBlockSize = 1024 * 1024 // 1MiB
	defaultCacheSize = 64
	defaultCacheTTL  = 30 * time.Second
)

var (
	// ErrUnexpectedStatus is returned for HTTP responses with a status
	// code that does not fit the request that was made.
	ErrUnexpectedStatus = errors.New("unexpected http status")

	// ErrRangeUnsupported is returned for resources that cannot be read
	// partially, either because the server ignores range requests or
	// does not report the total size of the resource.
	ErrRangeUnsupported = errors.New("range requests unsupported")

	// ErrInvalidSeek is returned when a seek would move the cursor
	// to a negative position or an unknown whence was passed.
	ErrInvalidSeek = errors.New("invalid seek")

	errUnsupportedScheme = errors.New("unsupported scheme")
	errUnsupportedProxy  = errors.New("unsupported proxy scheme")
)

// ClientOptions contains all settings for the HTTP transport and the
// read-ahead block cache. The zero value is not useful, use
// [DefaultClientOptions] and modify from there.
type ClientOptions struct {
	// Proxy is an optional proxy URL (http, https, socks5 or socks5h).
	// When empty, the proxy settings of the environment are used.
	Proxy string

	// MaxIdleConnsPerHost is the amount of kept-alive connections per host.
	MaxIdleConnsPerHost int

	// Timeout is the total time limit of a single HTTP request.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// BlockSize is the size of the aligned blocks requested from the
	// servers. With a BlockSize of zero, only the exact requested byte
	// ranges are fetched and nothing is cached.
	BlockSize int64

	// CacheSize is the maximum amount of blocks held in memory.
	CacheSize int

	// CacheTTL is the time-to-live of a cached block.
	CacheTTL time.Duration
}

// DefaultClientOptions returns a pointer to [ClientOptions] with the default values.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		MaxIdleConnsPerHost: runtime.NumCPU(),
		Timeout:             defaultTimeout,
		UserAgent:           defaultUserAgent,
		BlockSize:           defaultBlockSize,
		CacheSize:           defaultCacheSize,
		CacheTTL:            defaultCacheTTL,
	}
}

// Metrics contains all metrics which are collected by a [Client].
type Metrics struct {
	// Requests is the amount of HTTP requests that were made.
	Requests atomic.Int64

	// RequestErrors is the amount of failed HTTP requests.
	RequestErrors atomic.Int64

	// FetchedBytes is the amount of body bytes received for range requests.
	FetchedBytes atomic.Int64

	// FetchTime is time spent on range requests (in nanoseconds).
	FetchTime atomic.Int64

	// CacheHits is the amount of block reads served from memory.
	CacheHits atomic.Int64

	// CacheMisses is the amount of block reads that went to the network.
	CacheMisses atomic.Int64
}

// Client opens [Reader] for remote resources, sharing one connection pool
// and one block cache between all of them.
type Client struct {
	Options *ClientOptions
	Metrics *Metrics

	http  *http.Client
	cache *blockCache
}

// NewClient returns a pointer to a new [Client].
// You must call Close() once all work is complete.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = DefaultClientOptions()
	}

	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not a *http.Transport")
	}
	transport = transport.Clone()
	transport.MaxIdleConnsPerHost = max(1, opts.MaxIdleConnsPerHost)
	transport.DisableCompression = true // byte ranges address the raw body

	if err := configureProxy(transport, opts.Proxy); err != nil {
		return nil, err
	}

	c := &Client{
		Options: opts,
		Metrics: &Metrics{},
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
	}

	if opts.BlockSize > 0 && opts.CacheSize > 0 {
		c.cache = newBlockCache(c, opts.BlockSize, opts.CacheSize, opts.CacheTTL)
	}

	return c, nil
}

func configureProxy(transport *http.Transport, proxyAddr string) error {
	if proxyAddr == "" {
		transport.Proxy = http.ProxyFromEnvironment

		return nil
	}

	u, err := url.Parse(proxyAddr)
	if err != nil {
		return fmt.Errorf("failed to parse proxy: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)

	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create proxy dialer: %w", err)
		}

		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr) //nolint:wrapcheck
			}
		}

	default:
		return fmt.Errorf("%w: %q", errUnsupportedProxy, u.Scheme)
	}

	return nil
}

// Close releases the block cache and all idle connections.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
	c.http.CloseIdleConnections()
}

// CachedBlocks returns the amount of blocks currently held in memory.
func (c *Client) CachedBlocks() int {
	if c.cache == nil {
		return 0
	}

	return c.cache.Len()
}

// Open returns a new [Reader] for the resource at locator. The size of the
// resource is established here (once) and the server is required to support
// range requests, so an error means the resource can never be served.
func (c *Client) Open(ctx context.Context, locator *url.URL) (*Reader, error) {
	if locator == nil {
		return nil, fmt.Errorf("%w: nil locator", errUnsupportedScheme)
	}
	if s := strings.ToLower(locator.Scheme); s != "http" && s != "https" {
		return nil, fmt.Errorf("%w: %q", errUnsupportedScheme, locator.Scheme)
	}

	r := &Reader{
		client:  c,
		locator: locator.String(),
	}

	resp, err := c.do(ctx, http.MethodHead, r.locator, "")
	if err != nil {
		return nil, fmt.Errorf("failed to head: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		r.size, err = c.probeSize(ctx, r.locator)
		if err != nil {
			return nil, err
		}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.Metrics.RequestErrors.Add(1)

		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)

	case resp.ContentLength == 0:
		r.size = 0

	case resp.ContentLength < 0 || resp.Header.Get("Accept-Ranges") != "bytes":
		r.size, err = c.probeSize(ctx, r.locator)
		if err != nil {
			return nil, err
		}

	default:
		r.size = resp.ContentLength
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			r.mtime = t
		}
	}

	return r, nil
}

// probeSize requests the first byte of a resource to verify that the server
// honors range requests, returning the total size from the Content-Range.
func (c *Client) probeSize(ctx context.Context, locator string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, locator, "bytes=0-0")
	if err != nil {
		return 0, fmt.Errorf("failed to probe: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return parseContentRangeTotal(resp.Header.Get("Content-Range"))

	case http.StatusRequestedRangeNotSatisfiable:
		total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err == nil && total == 0 {
			return 0, nil
		}

		return 0, fmt.Errorf("%w: %s", ErrRangeUnsupported, resp.Status)

	case http.StatusOK:
		return 0, fmt.Errorf("%w: server ignored range request", ErrRangeUnsupported)

	default:
		c.Metrics.RequestErrors.Add(1)

		return 0, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
}

// parseContentRangeTotal extracts the complete length from a Content-Range
// header value, e.g. "bytes 0-0/1234" or "bytes */1234".
func parseContentRangeTotal(v string) (int64, error) {
	_, _, total, err := parseContentRange(v)
	if err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, fmt.Errorf("%w: unknown total in content-range %q", ErrRangeUnsupported, v)
	}

	return total, nil
}

// parseContentRange splits a Content-Range header value into the first and
// last byte position and the complete length. An unsatisfied range ("*")
// gives positions of -1, an unknown complete length ("*") a total of -1.
func parseContentRange(v string) (int64, int64, int64, error) {
	malformed := fmt.Errorf("%w: malformed content-range %q", ErrRangeUnsupported, v)

	unit, spec, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || unit != "bytes" {
		return 0, 0, 0, malformed
	}

	rng, total, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, malformed
	}

	size := int64(-1)
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, 0, malformed
		}
		size = n
	}

	if rng == "*" {
		return -1, -1, size, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, malformed
	}

	start, err1 := strconv.ParseInt(first, 10, 64)
	end, err2 := strconv.ParseInt(last, 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end < start || (size >= 0 && end >= size) {
		return 0, 0, 0, malformed
	}

	return start, end, size, nil
}

func (c *Client) do(ctx context.Context, method, locator, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.Options.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	c.Metrics.Requests.Add(1)

	resp, err := c.http.Do(req)
	if err != nil {
		c.Metrics.RequestErrors.Add(1)

		return nil, err //nolint:wrapcheck
	}

	return resp, nil
}

// fetch retrieves length bytes of the resource at locator starting at off.
// Fewer bytes than requested are returned along with [io.ErrUnexpectedEOF].
// A partial response for any other range than the requested one is an error,
// its bytes would belong elsewhere in the resource.
func (c *Client) fetch(ctx context.Context, locator string, off, length int64) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}

	start := time.Now()
	defer func() {
		c.Metrics.FetchTime.Add(time.Since(start).Nanoseconds())
	}()

	last := off + length - 1

	resp, err := c.do(ctx, http.MethodGet, locator, fmt.Sprintf("bytes=%d-%d", off, last))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	want := length

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")

		first, end, _, err := parseContentRange(cr)
		if err != nil || first != off || end > last {
			c.Metrics.RequestErrors.Add(1)

			return nil, fmt.Errorf("%w: got range %q for bytes %d-%d", ErrRangeUnsupported, cr, off, last)
		}
		want = end - first + 1

	case resp.StatusCode == http.StatusOK && off == 0:
		// The server sent the whole body, the head of it is still usable.

	case resp.StatusCode == http.StatusOK:
		c.Metrics.RequestErrors.Add(1)

		return nil, fmt.Errorf("%w: server ignored range request", ErrRangeUnsupported)

	default:
		c.Metrics.RequestErrors.Add(1)

		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(resp.Body, buf)
	c.Metrics.FetchedBytes.Add(int64(n))

	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return buf[:n], err //nolint:wrapcheck
	}
	if want < length {
		return buf, io.ErrUnexpectedEOF
	}

	return buf, nil
}
