package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/utils"
)

type HTTPFetcher struct {
	client utils.HTTPDoer
}

func NewHTTPFetcher(client utils.HTTPDoer) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Head(ctx context.Context, rawURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "bad Content-Length") {
			return nil, fmt.Errorf("%w: %w", fragment.ErrContentLengthUnavailable, err)
		}
		return nil, fmt.Errorf("error sending HEAD request: %w", err)
	}
	defer resp.Body.Close()
	if err := CheckStatus(rawURL, resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}
	meta := &Metadata{
		URL:           rawURL,
		ContentLength: -1,
		AcceptRanges:  resp.Header.Get("Accept-Ranges") == "bytes",
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil && size >= 0 {
			meta.ContentLength = size
		}
	} else if resp.ContentLength >= 0 {
		meta.ContentLength = resp.ContentLength
	}
	log.Debug().Str("op", "transport/http").Str("url", rawURL).Int64("size", meta.ContentLength).Bool("ranges", meta.AcceptRanges).Msg("metadata probed")
	return meta, nil
}

// Open issues a GET. The caller owns the status check and the body.
func (f *HTTPFetcher) Open(ctx context.Context, rawURL string, rng *fragment.Range) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		req.Header.Set("Range", rng.Header())
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}
