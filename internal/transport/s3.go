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

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/fragment"
)

var ErrInvalidS3URL = errors.New("invalid s3 url, want s3://bucket/key")

// S3Fetcher reads objects addressed as s3://bucket/key. The client is built on
// first use from the shared config profile.
type S3Fetcher struct {
	profile     string
	concurrency int

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Fetcher(profile string, concurrency int) *S3Fetcher {
	if concurrency <= 0 {
		concurrency = manager.DefaultDownloadConcurrency
	}
	return &S3Fetcher{profile: profile, concurrency: concurrency}
}

func NewS3FetcherWithClient(client *s3.Client, concurrency int) *S3Fetcher {
	f := NewS3Fetcher("", concurrency)
	f.client = client
	return f
}

func (f *S3Fetcher) getClient(ctx context.Context) (*s3.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if f.profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(f.profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	f.client = s3.NewFromConfig(cfg)
	return f.client, nil
}

func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidS3URL, rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidS3URL, rawURL)
	}
	return u.Host, key, nil
}

func (f *S3Fetcher) Head(ctx context.Context, rawURL string) (*Metadata, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, asStatusError(rawURL, err)
	}
	meta := &Metadata{
		URL:           rawURL,
		ContentLength: -1,
		AcceptRanges:  true,
		ETag:          aws.ToString(out.ETag),
		ContentType:   aws.ToString(out.ContentType),
	}
	if out.ContentLength != nil {
		meta.ContentLength = *out.ContentLength
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UTC().Format(http.TimeFormat)
	}
	log.Debug().Str("op", "transport/s3").Str("bucket", bucket).Str("key", key).Int64("size", meta.ContentLength).Msg("object probed")
	return meta, nil
}

func (f *S3Fetcher) Open(ctx context.Context, rawURL string, rng *fragment.Range) (*Response, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(rng.Header())
	}
	out, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, asStatusError(rawURL, err)
	}
	resp := &Response{
		StatusCode:    http.StatusOK,
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentRange:  aws.ToString(out.ContentRange),
		Body:          out.Body,
	}
	if resp.ContentRange != "" {
		resp.StatusCode = http.StatusPartialContent
	}
	resp.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return resp, nil
}

// FetchAll downloads the whole object through the transfer manager.
func (f *S3Fetcher) FetchAll(ctx context.Context, rawURL string, w io.WriterAt, progress func(n int64)) (int64, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return 0, err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return 0, err
	}
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = f.concurrency
	})
	n, err := downloader.Download(ctx, &progressWriterAt{w: w, progress: progress}, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, asStatusError(rawURL, err)
	}
	return n, nil
}

type progressWriterAt struct {
	w        io.WriterAt
	progress func(n int64)
}

func (p *progressWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	if n > 0 && p.progress != nil {
		p.progress(int64(n))
	}
	return n, err
}

func asStatusError(rawURL string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		return fmt.Errorf("%w: %w", &HTTPStatusError{URL: rawURL, StatusCode: code, Status: fmt.Sprintf("%d %s", code, http.StatusText(code))}, err)
	}
	return err
}
