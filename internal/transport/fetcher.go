package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tanq16/splitfetch/internal/fragment"
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Metadata is the result of a header-only probe. ContentLength is -1 when the
// server did not report a usable size.
type Metadata struct {
	URL           string
	ContentLength int64
	AcceptRanges  bool
	ETag          string
	LastModified  string
	ContentType   string
}

// Response is an open body for a whole resource or one range of it.
type Response struct {
	StatusCode    int
	Status        string
	ContentLength int64
	ContentRange  string
	Body          io.ReadCloser
}

type Fetcher interface {
	Head(ctx context.Context, rawURL string) (*Metadata, error)
	Open(ctx context.Context, rawURL string, rng *fragment.Range) (*Response, error)
}

// BulkFetcher is implemented by sources with their own whole-object download
// machinery. progress receives the size of each write.
type BulkFetcher interface {
	FetchAll(ctx context.Context, rawURL string, w io.WriterAt, progress func(n int64)) (int64, error)
}

type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: unexpected status %s", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// CheckStatus returns an *HTTPStatusError for anything outside 2xx.
func CheckStatus(rawURL string, code int, status string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if status == "" {
		status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	return &HTTPStatusError{URL: rawURL, StatusCode: code, Status: status}
}

// Router picks a Fetcher by URL scheme.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRouter() *Router {
	return &Router{fetchers: make(map[string]Fetcher)}
}

func (r *Router) Register(f Fetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.fetchers[strings.ToLower(s)] = f
	}
}

func (r *Router) For(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f, nil
}

func (r *Router) Head(ctx context.Context, rawURL string) (*Metadata, error) {
	f, err := r.For(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Head(ctx, rawURL)
}

func (r *Router) Open(ctx context.Context, rawURL string, rng *fragment.Range) (*Response, error) {
	f, err := r.For(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, rawURL, rng)
}

// Bulk returns the BulkFetcher for rawURL, if its source has one.
func (r *Router) Bulk(rawURL string) (BulkFetcher, bool) {
	f, err := r.For(rawURL)
	if err != nil {
		return nil, false
	}
	b, ok := f.(BulkFetcher)
	return b, ok
}
