package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/testutil"
	"github.com/tanq16/splitfetch/internal/transport"
	"github.com/tanq16/splitfetch/internal/utils"
)

func TestUpload(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	c := New(Options{})
	payload := testutil.Payload(50_000)

	s, err := c.Upload(context.Background(), fx.URL("/upload"), []utils.FormFile{
		{Name: "file", FileName: "payload.bin", Data: payload},
	}, map[string]string{"note": "nightly", "owner": "ops"})
	require.NoError(t, err)
	events := drain(t, s)

	last := events[len(events)-1]
	require.Equal(t, bridge.EventFinished, last.Kind, "err: %v", last.Err)
	assert.Equal(t, http.StatusCreated, last.Result.StatusCode)
	assert.Equal(t, "stored", string(last.Result.Body))

	var sent, total int64
	for _, ev := range events {
		if ev.Kind == bridge.EventProgress {
			assert.Greater(t, ev.Progress.Transferred, sent)
			sent, total = ev.Progress.Transferred, ev.Progress.Total
		}
	}
	assert.Equal(t, total, sent)
	assert.Greater(t, sent, int64(len(payload)))

	uploads := fx.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, map[string]string{"note": "nightly", "owner": "ops"}, uploads[0].Fields)
	assert.Equal(t, payload, uploads[0].Files["file"])
	idle(t, c)
}

func TestUploadRejected(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	c := New(Options{})

	s, err := c.Upload(context.Background(), fx.URL("/missing"), nil, map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = bridge.Await(context.Background(), s)
	var statusErr *transport.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusMethodNotAllowed, statusErr.StatusCode)
	assert.Empty(t, fx.Uploads())
}

func TestUploadInvalidURL(t *testing.T) {
	c := New(Options{})
	_, err := c.Upload(context.Background(), "localhost/upload", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestUploadBinary(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	c := New(Options{})
	payload := testutil.Payload(70_000)

	s, err := c.UploadBinary(context.Background(), fx.URL("/binary"), utils.FormFile{
		Name:     "x-filename",
		FileName: "large.bin",
		Data:     payload,
	})
	require.NoError(t, err)
	events := drain(t, s)

	last := events[len(events)-1]
	require.Equal(t, bridge.EventFinished, last.Kind, "err: %v", last.Err)
	assert.Equal(t, http.StatusCreated, last.Result.StatusCode)
	assert.Equal(t, "70000 application/octet-stream large.bin", string(last.Result.Body))

	var sent int64
	for _, ev := range events {
		if ev.Kind == bridge.EventProgress {
			assert.Greater(t, ev.Progress.Transferred, sent)
			assert.Equal(t, int64(len(payload)), ev.Progress.Total)
			sent = ev.Progress.Transferred
		}
	}
	assert.Equal(t, int64(len(payload)), sent)
	idle(t, c)
}

func TestUploadBinaryContentType(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	c := New(Options{})

	s, err := c.UploadBinary(context.Background(), fx.URL("/binary"), utils.FormFile{
		Name:        "x-filename",
		FileName:    "demo.png",
		ContentType: "image/png",
		Data:        []byte("png"),
	})
	require.NoError(t, err)
	result, err := bridge.Await(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "3 image/png demo.png", string(result.Body))
}

func TestUploadBinaryRejected(t *testing.T) {
	fx := testutil.NewFixture(t, nil)
	c := New(Options{})

	_, err := c.UploadBinary(context.Background(), "ftp://example.com/x", utils.FormFile{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidURL)

	s, err := c.UploadBinary(context.Background(), fx.URL("/missing"), utils.FormFile{Data: []byte("x")})
	require.NoError(t, err)
	_, err = bridge.Await(context.Background(), s)
	var statusErr *transport.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusMethodNotAllowed, statusErr.StatusCode)
}
