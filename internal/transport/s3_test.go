package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/testutil"
)

func newFakeS3(t *testing.T, objects map[string][]byte) *S3Fetcher {
	t.Helper()
	return NewS3FetcherWithClient(testutil.NewS3Fixture(t, objects).Client, 2)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://my-bucket/dir/object.bin")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "dir/object.bin", key)

	for _, bad := range []string{"s3://bucket", "s3://bucket/", "http://bucket/key", "s3:///key"} {
		_, _, err := ParseS3URL(bad)
		assert.ErrorIs(t, err, ErrInvalidS3URL, bad)
	}
}

func TestS3FetcherHeadAndRange(t *testing.T) {
	data := testutil.Payload(4096)
	f := newFakeS3(t, map[string][]byte{"bucket/dir/object.bin": data})
	ctx := context.Background()

	meta, err := f.Head(ctx, "s3://bucket/dir/object.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), meta.ContentLength)
	assert.Equal(t, `"etag-1"`, meta.ETag)

	rng := fragment.Range{Start: 100, End: 199}
	resp, err := f.Open(ctx, "s3://bucket/dir/object.bin", &rng)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, data[100:200], body)

	_, err = f.Head(ctx, "s3://bucket/absent")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestS3FetcherFetchAll(t *testing.T) {
	data := testutil.Payload(10_000)
	f := newFakeS3(t, map[string][]byte{"bucket/object": data})

	buf := manager.NewWriteAtBuffer(make([]byte, 0, len(data)))
	var reported atomic.Int64
	n, err := f.FetchAll(context.Background(), "s3://bucket/object", buf, func(n int64) { reported.Add(n) })
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, int64(len(data)), reported.Load())
	assert.Equal(t, data, buf.Bytes())
}
