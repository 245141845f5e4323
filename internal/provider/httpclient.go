package provider

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SharedHTTPClient returns an HTTP client with connection pooling tuned for
// long-running completion requests. Its transport records the Retry-After
// header of 429 responses for requests carrying a retryAfterHint.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: retryAfterTransport{base: transport},
	}
}

type retryAfterKey struct{}

// retryAfterHint receives the server's Retry-After for one request. It is
// written by the transport before the client call returns.
type retryAfterHint struct {
	after time.Duration
}

func withRetryAfterHint(ctx context.Context) (context.Context, *retryAfterHint) {
	hint := &retryAfterHint{}
	return context.WithValue(ctx, retryAfterKey{}, hint), hint
}

type retryAfterTransport struct {
	base http.RoundTripper
}

func (t retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHint); ok {
		if d, ok := parseRetryAfter(resp.Header, time.Now()); ok {
			hint.after = d
		}
	}
	return resp, nil
}

// parseRetryAfter reads retry-after-ms (sent by OpenAI and Azure) or the
// standard Retry-After in seconds or HTTP-date form.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if ms, err := strconv.ParseFloat(strings.TrimSpace(h.Get("Retry-After-Ms")), 64); err == nil && ms > 0 {
		return time.Duration(ms * float64(time.Millisecond)), true
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}
