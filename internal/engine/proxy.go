package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/metrics"
	"github.com/tanq16/splitfetch/internal/transport"
)

// taskProxy forwards the events of one underlying request into the
// coordinator, identified by task ID.
type taskProxy struct {
	c  *Coordinator
	id bridge.TaskID
}

func (c *Coordinator) proxy(t *task) taskProxy {
	return taskProxy{c: c, id: t.id}
}

func (p taskProxy) response(resp *transport.Response) error {
	return p.c.didReceiveResponse(p.id, resp)
}

func (p taskProxy) data(chunk []byte) error {
	return p.c.didReceiveData(p.id, chunk)
}

func (p taskProxy) written(n int64) error {
	return p.c.didWriteData(p.id, n)
}

func (p taskProxy) complete(err error) {
	p.c.didComplete(p.id, err)
}

// pump reads body into a task-local buffer and hands each chunk to deliver.
func (c *Coordinator) pump(ctx context.Context, body io.Reader, deliver func([]byte) error) error {
	buf := make([]byte, c.bufSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if c.limiter != nil {
				if werr := c.limiter.WaitN(ctx, n); werr != nil {
					return werr
				}
			}
			if derr := deliver(buf[:n]); derr != nil {
				return derr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Coordinator) didReceiveResponse(id bridge.TaskID, resp *transport.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	if err := transport.CheckStatus(t.url, resp.StatusCode, resp.Status); err != nil {
		return err
	}
	if t.rng == nil {
		t.total = resp.ContentLength
		return nil
	}
	rng := *t.rng
	whole := rng.Start == 0 && rng.Len() == t.op.length
	if resp.StatusCode != http.StatusPartialContent {
		if whole {
			return nil
		}
		return fmt.Errorf("%w: %s answered %s", ErrRangeNotSupported, rng.Header(), resp.Status)
	}
	if resp.ContentRange != "" {
		start, end, _, err := fragment.ParseContentRange(resp.ContentRange)
		if err != nil {
			return err
		}
		if start != rng.Start || (!rng.Open() && end != rng.End) {
			return fmt.Errorf("%w: asked %s, got %q", ErrRangeNotSupported, rng.Header(), resp.ContentRange)
		}
	}
	return nil
}

// didReceiveData appends a chunk to the task's buffer and reports progress.
func (c *Coordinator) didReceiveData(id bridge.TaskID, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	op := t.op
	if op.ctx.Err() != nil || op.failed != nil {
		return ErrCancelled
	}
	size := int64(len(chunk))
	if op.kind == kindFragmented {
		landed, err := op.buffer.append(id, chunk)
		if err != nil {
			return err
		}
		metrics.BytesReceived.Add(float64(size))
		op.frag.Progress(bridge.Progress{URL: op.url, Total: op.length, Transferred: op.buffer.transferred(), Chunk: size})
		if landed && op.buffer.complete() {
			op.frag.Finish(op.buffer.assemble())
		}
		return nil
	}
	t.data = append(t.data, chunk...)
	t.transferred += size
	metrics.BytesReceived.Add(float64(size))
	op.files.Progress(bridge.Progress{URL: t.url, Total: t.total, Transferred: t.transferred, Chunk: size})
	return nil
}

// didWriteData reports progress for bytes that do not pass through the
// coordinator: bulk downloads written straight to their buffer, and upload
// bodies.
func (c *Coordinator) didWriteData(id bridge.TaskID, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	op := t.op
	if op.ctx.Err() != nil {
		return ErrCancelled
	}
	t.transferred += n
	p := bridge.Progress{URL: t.url, Total: t.total, Transferred: t.transferred, Chunk: n}
	switch op.kind {
	case kindUpload:
		metrics.BytesSent.Add(float64(n))
		op.upload.Progress(p)
	default:
		metrics.BytesReceived.Add(float64(n))
		op.files.Progress(p)
	}
	return nil
}

// didComplete records the terminal event of a fragment task. The first real
// failure fails the whole download; errors caused by cancellation do not.
func (c *Coordinator) didComplete(id bridge.TaskID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return
	}
	op := t.op
	switch {
	case err == nil:
		metrics.Fragments.WithLabelValues(metrics.ResultSuccess).Inc()
	case op.ctx.Err() != nil:
		op.buffer.close(id)
		op.stream.Cancel()
		metrics.Fragments.WithLabelValues(metrics.ResultCancelled).Inc()
	case op.failed != nil:
		op.buffer.close(id)
		metrics.Fragments.WithLabelValues(metrics.ResultCancelled).Inc()
	default:
		op.buffer.close(id)
		op.failed = err
		op.frag.Fail(err)
		metrics.Fragments.WithLabelValues(metrics.ResultFailure).Inc()
	}
}
