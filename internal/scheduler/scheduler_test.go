package scheduler

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/engine"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/testutil"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newRunner(t *testing.T) (*Runner, *output.Manager) {
	t.Helper()
	t.Chdir(t.TempDir())
	out := output.NewManager(&bytes.Buffer{})
	return NewRunner(engine.New(engine.Options{}), out, 3), out
}

func TestFetchWritesOutput(t *testing.T) {
	fx := testutil.NewFixture(t, testutil.Payload(5000))
	r, out := newRunner(t)

	path, err := r.Fetch(context.Background(), Job{URL: fx.URL("/file")})
	require.NoError(t, err)
	assert.Equal(t, "file", path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fx.Data, got)

	again, err := r.Fetch(context.Background(), Job{URL: fx.URL("/file")})
	require.NoError(t, err)
	assert.Equal(t, "file-(1)", again)

	succeeded, failed, total := out.Summary()
	assert.Equal(t, 2, succeeded)
	assert.Zero(t, failed)
	assert.Equal(t, 2, total)
}

func TestFetchFailure(t *testing.T) {
	fx := testutil.NewFixture(t, testutil.Payload(10))
	r, out := newRunner(t)

	_, err := r.Fetch(context.Background(), Job{URL: fx.URL("/missing"), OutputPath: "out.bin"})
	assert.Error(t, err)
	assert.NoFileExists(t, "out.bin")
	_, failed, _ := out.Summary()
	assert.Equal(t, 1, failed)
}

func TestBatch(t *testing.T) {
	fx := testutil.NewFixture(t, testutil.Payload(2500))
	r, out := newRunner(t)

	err := r.Batch(context.Background(), []Job{
		{URL: fx.URL("/file"), OutputPath: "nested/a.bin"},
		{URL: fx.URL("/file"), OutputPath: "b.bin"},
		{URL: fx.URL("/norange"), OutputPath: "b.bin"},
		{URL: fx.URL("/missing")},
	})
	assert.ErrorIs(t, err, ErrFailedJobs)

	for _, path := range []string{"nested/a.bin", "b.bin", "b-(1).bin"} {
		got, err := os.ReadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, fx.Data, got, path)
	}
	assert.NoFileExists(t, "missing")
	assert.Equal(t, 3, fx.Gets(), "the duplicated url is fetched once")

	succeeded, failed, total := out.Summary()
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 4, total)
}

func TestBatchInvalidURL(t *testing.T) {
	r, out := newRunner(t)
	err := r.Batch(context.Background(), []Job{{URL: "nope"}})
	assert.ErrorIs(t, err, engine.ErrInvalidURL)
	_, failed, _ := out.Summary()
	assert.Equal(t, 1, failed)
}

func TestUpload(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	r, _ := newRunner(t)

	result, err := r.Upload(context.Background(), fx.URL("/upload"), []utils.FormFile{{Name: "f", FileName: "f.txt", Data: []byte("hello")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, result.StatusCode)
	require.Len(t, fx.Uploads(), 1)
	assert.Equal(t, []byte("hello"), fx.Uploads()[0].Files["f"])
}

func TestUploadBinary(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	r, out := newRunner(t)

	result, err := r.UploadBinary(context.Background(), fx.URL("/binary"), utils.FormFile{Name: "x-filename", FileName: "f.bin", Data: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "5 application/octet-stream f.bin", string(result.Body))
	succeeded, failed, total := out.Summary()
	assert.Equal(t, []int{1, 0, 1}, []int{succeeded, failed, total})
}

func TestNextPath(t *testing.T) {
	tests := map[string]string{
		"a.bin":       "a-(1).bin",
		"a-(1).bin":   "a-(2).bin",
		"dir/file":    "dir/file-(1)",
		"x-(9)":       "x-(10)",
		"archive.tar": "archive-(1).tar",
	}
	for in, want := range tests {
		assert.Equal(t, want, nextPath(in), in)
	}
}
