package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	UserAgent      = "skyscribe/1.0"
)

// NewClient returns an HTTP client with the standard timeout that
// identifies itself with UserAgent.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: userAgent{next: http.DefaultTransport},
	}
}

type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return u.next.RoundTrip(req)
}
