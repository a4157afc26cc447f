package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/metrics"
	"github.com/tanq16/splitfetch/internal/transport"
	"github.com/tanq16/splitfetch/internal/utils"
	"github.com/tanq16/splitfetch/internal/validation"
)

type UploadResult struct {
	StatusCode int
	Body       []byte
}

// Upload POSTs files and params as a multipart form, reporting body progress.
func (c *Coordinator) Upload(ctx context.Context, rawURL string, files []utils.FormFile, params map[string]string) (*bridge.Stream[UploadResult], error) {
	if err := validation.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	boundary := utils.NewBoundary()
	body := utils.BuildMultipartBody(boundary, files, params)
	header := http.Header{}
	header.Set("Content-Type", utils.ContentTypeMultipart+boundary)
	return c.startUpload(ctx, rawURL, header, body), nil
}

// UploadBinary POSTs file.Data as the raw request body. The file name travels
// in a header named after file.Name.
func (c *Coordinator) UploadBinary(ctx context.Context, rawURL string, file utils.FormFile) (*bridge.Stream[UploadResult], error) {
	if err := validation.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	header := http.Header{}
	contentType := file.ContentType
	if contentType == "" {
		contentType = utils.ContentTypeOctet
	}
	header.Set("Content-Type", contentType)
	if file.Name != "" && file.FileName != "" {
		header.Set(file.Name, file.FileName)
	}
	return c.startUpload(ctx, rawURL, header, file.Data), nil
}

func (c *Coordinator) startUpload(ctx context.Context, rawURL string, header http.Header, body []byte) *bridge.Stream[UploadResult] {
	op := c.newOperation(ctx, kindUpload, rawURL)
	op.upload = bridge.NewStream[UploadResult](op.id, op.cancel)
	op.stream = op.upload
	c.register(op)

	c.mu.Lock()
	t := c.addTask(op, rawURL, nil)
	t.total = int64(len(body))
	op.upload.Started([]bridge.TaskID{t.id})
	c.mu.Unlock()

	go func() {
		result, err := c.send(op.ctx, t, header, body)
		switch {
		case op.ctx.Err() != nil:
			op.upload.Cancel()
		case err != nil:
			log.Debug().Str("op", "engine/upload").Str("url", rawURL).Err(err).Msg("upload failed")
			op.upload.Fail(err)
		default:
			op.upload.Finish(result)
		}
		c.release(op, outcome(op, err))
	}()
	return op.upload
}

func (c *Coordinator) send(ctx context.Context, t *task, header http.Header, body []byte) (UploadResult, error) {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	p := c.proxy(t)
	reader := &progressReader{r: bytes.NewReader(body), progress: func(n int64) { p.written(n) }}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, reader)
	if err != nil {
		return UploadResult{}, err
	}
	req.ContentLength = int64(len(body))
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadResult{}, err
	}
	if err := transport.CheckStatus(t.url, resp.StatusCode, resp.Status); err != nil {
		return UploadResult{StatusCode: resp.StatusCode, Body: respBody}, err
	}
	return UploadResult{StatusCode: resp.StatusCode, Body: respBody}, nil
}

type progressReader struct {
	r        io.Reader
	progress func(n int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.progress(int64(n))
	}
	return n, err
}
