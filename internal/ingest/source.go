package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/skyscribe/internal/httputil"
	"github.com/lox/skyscribe/internal/logging"
)

// ErrUnsupportedSource is returned for a source URL scheme the fetcher
// cannot read.
var ErrUnsupportedSource = errors.New("unsupported import source")

// ErrExportTooLarge is returned when an export exceeds MaxExportSize.
var ErrExportTooLarge = errors.New("export too large")

// Fetcher reads an export from a local path, an http(s) URL or an ftp URL.
// HTTP fetches are retried with exponential backoff behind a circuit
// breaker shared by every fetch.
type Fetcher struct {
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	newBackOff func() backoff.BackOff
	ftpTimeout time.Duration
	maxSize    int64
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Fetcher{
		client: client,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "blynk-export",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("ingest: circuit breaker state changed")
			},
		}),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
		ftpTimeout: 30 * time.Second,
		maxSize:    MaxExportSize,
	}
}

// Open returns the contents of src. Bare paths and file:// URLs are read
// from disk.
func (f *Fetcher) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return os.Open(src)
	}
	switch u.Scheme {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		body, err := f.fetchHTTP(ctx, u.String())
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	case "ftp":
		body, err := f.fetchFTP(ctx, u)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, u.Scheme)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	operation := func() error {
		b, err := f.breaker.Execute(func() ([]byte, error) {
			return f.get(ctx, rawURL)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", rawURL, err))
		}
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("fetch export: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("fetch export: status %d: %s", resp.StatusCode, string(b)))
	}

	body, err := readLimited(resp.Body, f.maxSize)
	if errors.Is(err, ErrExportTooLarge) {
		return nil, backoff.Permanent(fmt.Errorf("fetch export: %w", err))
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retrieve %s: %w", u.Path, err)
	}
	defer resp.Close()

	body, err := readLimited(resp, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("ftp read: %w", err)
	}
	return body, nil
}

// readLimited reads r to the end, failing once more than max bytes arrive.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrExportTooLarge, max)
	}
	return body, nil
}
