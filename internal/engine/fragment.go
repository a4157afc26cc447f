package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/metrics"
	"github.com/tanq16/splitfetch/internal/validation"
	"golang.org/x/sync/errgroup"
)

// StartFragmentedDownload fetches rawURL as count concurrent byte ranges.
// Input errors are returned directly; everything after that, including the
// metadata probe, is reported on the stream.
func (c *Coordinator) StartFragmentedDownload(ctx context.Context, rawURL string, count int) (*bridge.Stream[[]byte], error) {
	if err := validation.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, ErrInvalidFragmentCount
	}
	op := c.newOperation(ctx, kindFragmented, rawURL)
	op.frag = bridge.NewStream[[]byte](op.id, op.cancel)
	op.stream = op.frag
	c.register(op)
	go c.runFragmented(op, count)
	return op.frag, nil
}

// FragmentDownload is the callback form of StartFragmentedDownload.
func (c *Coordinator) FragmentDownload(ctx context.Context, rawURL string, count int, cb bridge.Callbacks[[]byte]) (bridge.OperationID, error) {
	stream, err := c.StartFragmentedDownload(ctx, rawURL, count)
	if err != nil {
		return bridge.OperationID{}, err
	}
	bridge.Subscribe(stream, cb)
	return stream.ID(), nil
}

// FetchFragmented blocks until the fragmented download finishes.
func (c *Coordinator) FetchFragmented(ctx context.Context, rawURL string, count int) ([]byte, error) {
	stream, err := c.StartFragmentedDownload(ctx, rawURL, count)
	if err != nil {
		return nil, err
	}
	return bridge.Await(ctx, stream)
}

func (c *Coordinator) runFragmented(op *operation, count int) {
	logger := log.With().Str("op", "engine/fragmented").Str("url", op.url).Logger()
	meta, err := c.probe(op.ctx, op.url)
	if err != nil {
		c.finishFragmented(op, fmt.Errorf("metadata probe failed: %w", err))
		return
	}
	if meta.ContentLength < 0 {
		c.finishFragmented(op, ErrContentLengthUnavailable)
		return
	}
	plan, err := fragment.PlanFragments(meta.ContentLength, count)
	if err != nil {
		c.finishFragmented(op, err)
		return
	}
	version := meta.ETag
	if version == "" {
		version = fmt.Sprintf("size=%d;modified=%s", meta.ContentLength, meta.LastModified)
	}
	logger.Debug().Int64("size", plan.Length).Int("fragments", plan.Count).Msg("plan ready")

	c.mu.Lock()
	op.length = plan.Length
	op.version = version
	op.buffer = newReassemblyBuffer(plan.Length)
	var tasks []*task
	for _, rng := range plan.Active() {
		t := c.addTask(op, op.url, &rng)
		op.buffer.register(t.id, rng)
		tasks = append(tasks, t)
	}
	op.frag.Started(append([]bridge.TaskID(nil), op.tasks...))
	if op.buffer.complete() {
		op.frag.Finish(op.buffer.assemble())
	}
	c.mu.Unlock()

	c.restoreCheckpoints(op, tasks)

	g, gctx := errgroup.WithContext(op.ctx)
	for _, t := range tasks {
		if t.restored {
			continue
		}
		g.Go(func() error {
			return c.fetchFragment(gctx, t)
		})
	}
	c.finishFragmented(op, g.Wait())
}

func (c *Coordinator) restoreCheckpoints(op *operation, tasks []*task) {
	if c.store == nil {
		return
	}
	for _, t := range tasks {
		data, ok, err := c.store.Load(op.url, op.version, *t.rng)
		if err != nil {
			log.Debug().Str("op", "engine/fragmented").Str("range", t.rng.String()).Err(err).Msg("checkpoint unusable")
			continue
		}
		if !ok {
			continue
		}
		err = c.didReceiveData(t.id, data)
		c.mu.Lock()
		t.restored = err == nil && op.buffer.hasLanded(t.id)
		if !t.restored {
			op.buffer.reset(t.id)
		}
		c.mu.Unlock()
		if t.restored {
			log.Debug().Str("op", "engine/fragmented").Str("range", t.rng.String()).Msg("fragment restored from checkpoint")
		}
	}
}

func (c *Coordinator) fetchFragment(ctx context.Context, t *task) error {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	p := c.proxy(t)
	err := c.transferFragment(ctx, t, p)
	p.complete(err)
	if err != nil {
		return fmt.Errorf("fragment %s: %w", t.rng, err)
	}
	return nil
}

func (c *Coordinator) transferFragment(ctx context.Context, t *task, p taskProxy) error {
	resp, err := c.router.Open(ctx, t.url, t.rng)
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
	landed := t.op.buffer.hasLanded(t.id)
	var data []byte
	if landed && c.store != nil {
		data = append([]byte(nil), t.op.buffer.partBytes(t.id)...)
	}
	op := t.op
	c.mu.Unlock()
	if !landed {
		return ErrIncompleteTransfer
	}
	if data != nil {
		if err := c.store.Save(op.url, op.version, *t.rng, data); err != nil {
			log.Warn().Str("op", "engine/fragmented").Str("range", t.rng.String()).Err(err).Msg("checkpoint save failed")
		}
	}
	return nil
}

func (c *Coordinator) finishFragmented(op *operation, err error) {
	c.mu.Lock()
	sealed := op.buffer != nil && op.buffer.sealed
	c.mu.Unlock()

	result := outcome(op, err)
	switch {
	case sealed:
		result = metrics.ResultSuccess
		if c.store != nil {
			if _, perr := c.store.Purge(op.url, op.version); perr != nil {
				log.Warn().Str("op", "engine/fragmented").Err(perr).Msg("checkpoint purge failed")
			}
		}
		log.Debug().Str("op", "engine/fragmented").Str("url", op.url).Int64("size", op.length).Msg("fragmented download finished")
	case result == metrics.ResultCancelled:
		op.frag.Cancel()
	case err != nil:
		op.frag.Fail(err)
	default:
		result = metrics.ResultFailure
		op.frag.Fail(ErrIncompleteTransfer)
	}
	if err != nil && !sealed && !errors.Is(err, context.Canceled) {
		log.Debug().Str("op", "engine/fragmented").Str("url", op.url).Err(err).Msg("fragmented download failed")
	}
	c.release(op, result)
}
