package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/metrics"
	"github.com/tanq16/splitfetch/internal/transport"
	"github.com/tanq16/splitfetch/internal/validation"
	"golang.org/x/sync/errgroup"
)

// FileResult is the payload of one whole-file download.
type FileResult struct {
	URL  string
	Data []byte
}

// Download fetches one resource as a single request.
func (c *Coordinator) Download(ctx context.Context, rawURL string) (*bridge.Stream[FileResult], error) {
	if err := validation.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	op := c.newOperation(ctx, kindFile, rawURL)
	op.files = bridge.NewStream[FileResult](op.id, op.cancel)
	op.stream = op.files
	c.register(op)

	c.mu.Lock()
	t := c.addTask(op, rawURL, nil)
	op.files.Started([]bridge.TaskID{t.id})
	c.mu.Unlock()

	go func() {
		err := c.fetchFile(op.ctx, t)
		c.release(op, outcome(op, err))
	}()
	return op.files, nil
}

// StartBatchDownload fetches every distinct URL as an independent whole-file
// download. Per-file outcomes arrive as non-terminal events; the stream closes
// once after the last of them.
func (c *Coordinator) StartBatchDownload(ctx context.Context, urls []string) (*bridge.Stream[FileResult], error) {
	if err := validation.ValidateURLs(urls); err != nil {
		return nil, err
	}
	unique := dedupe(urls)
	op := c.newOperation(ctx, kindBatch, "")
	op.files = bridge.NewStream[FileResult](op.id, op.cancel)
	op.stream = op.files
	c.register(op)

	c.mu.Lock()
	tasks := make([]*task, 0, len(unique))
	for _, u := range unique {
		tasks = append(tasks, c.addTask(op, u, nil))
	}
	op.files.Started(append([]bridge.TaskID(nil), op.tasks...))
	c.mu.Unlock()
	op.counter = NewTransferCounter(len(tasks), func() {
		op.files.Close()
	})
	log.Debug().Str("op", "engine/batch").Int("requested", len(urls)).Int("unique", len(unique)).Msg("batch started")

	go c.runBatch(op, tasks)
	return op.files, nil
}

// FetchBatch blocks until every file of the batch has a terminal outcome.
func (c *Coordinator) FetchBatch(ctx context.Context, urls []string) ([]bridge.Outcome[FileResult], error) {
	stream, err := c.StartBatchDownload(ctx, urls)
	if err != nil {
		return nil, err
	}
	return bridge.Collect(ctx, stream)
}

func (c *Coordinator) runBatch(op *operation, tasks []*task) {
	var g errgroup.Group
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}
	for _, t := range tasks {
		g.Go(func() error {
			c.fetchFile(op.ctx, t)
			return nil
		})
	}
	g.Wait()
	c.release(op, outcome(op, nil))
}

func (c *Coordinator) fetchFile(ctx context.Context, t *task) error {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	p := c.proxy(t)
	var data []byte
	var err error
	if bulk, ok := c.router.Bulk(t.url); ok {
		data, err = c.transferBulk(ctx, t, bulk, p)
	} else {
		err = c.transferFile(ctx, t, p)
	}
	c.didCompleteFile(t.id, data, err)
	return err
}

func (c *Coordinator) transferFile(ctx context.Context, t *task, p taskProxy) error {
	resp, err := c.router.Open(ctx, t.url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := p.response(resp); err != nil {
		return err
	}
	if err := c.pump(ctx, resp.Body, p.data); err != nil {
		return err
	}
	c.mu.Lock()
	got, want := t.transferred, t.total
	c.mu.Unlock()
	if want >= 0 && got != want {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncompleteTransfer, got, want)
	}
	return nil
}

func (c *Coordinator) transferBulk(ctx context.Context, t *task, bulk transport.BulkFetcher, p taskProxy) ([]byte, error) {
	meta, err := c.probe(ctx, t.url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	t.total = meta.ContentLength
	c.mu.Unlock()
	buf := manager.NewWriteAtBuffer(make([]byte, 0, max(meta.ContentLength, 0)))
	_, err = bulk.FetchAll(ctx, t.url, buf, func(n int64) {
		p.written(n)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// didCompleteFile emits the terminal event of one whole-file task: terminal
// for a single download, per-item for a batch.
func (c *Coordinator) didCompleteFile(id bridge.TaskID, bulkData []byte, err error) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	op := t.op
	data := t.data
	if bulkData != nil {
		data = bulkData
	}
	t.data = nil
	cancelled := op.ctx.Err() != nil
	switch {
	case cancelled:
		op.files.Cancel()
	case op.kind == kindFile && err != nil:
		op.files.Fail(err)
	case op.kind == kindFile:
		op.files.Finish(FileResult{URL: t.url, Data: data})
	case err != nil:
		op.files.Emit(bridge.Event[FileResult]{Kind: bridge.EventFailed, URL: t.url, Err: err})
	default:
		op.files.Emit(bridge.Event[FileResult]{Kind: bridge.EventFinished, URL: t.url, Result: FileResult{URL: t.url, Data: data}})
	}
	c.mu.Unlock()

	if err != nil && !cancelled {
		log.Debug().Str("op", "engine/"+string(op.kind)).Str("url", t.url).Err(err).Msg("file download failed")
	}
	if op.counter != nil {
		op.counter.Done()
	}
}

// dedupe keeps the first occurrence of every URL.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
