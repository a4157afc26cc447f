package engine

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/checkpoint"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/metrics"
	"github.com/tanq16/splitfetch/internal/pinning"
	"github.com/tanq16/splitfetch/internal/transport"
	"github.com/tanq16/splitfetch/internal/utils"
	"golang.org/x/time/rate"
)

type Options struct {
	HTTP           utils.HTTPClientConfig
	Router         *transport.Router // replaces the default http/https/s3 router
	S3Profile      string
	Checkpoints    *checkpoint.Store
	BandwidthLimit int64 // bytes per second shared by all tasks, 0 for none
	Workers        int   // concurrent files per batch, 0 for unbounded
	BufferSize     int
	PinObserver    pinning.Observer
	PinRoots       *x509.CertPool
}

type opKind string

const (
	kindFragmented opKind = "fragmented"
	kindBatch      opKind = "batch"
	kindFile       opKind = "file"
	kindUpload     opKind = "upload"
)

type operation struct {
	id     bridge.OperationID
	kind   opKind
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	begun  time.Time

	stream interface{ Cancel() bool }
	frag   *bridge.Stream[[]byte]
	files  *bridge.Stream[FileResult]
	upload *bridge.Stream[UploadResult]

	length  int64
	version string
	buffer  *reassemblyBuffer
	counter *TransferCounter
	tasks   []bridge.TaskID
	failed  error
}

type task struct {
	id          bridge.TaskID
	op          *operation
	url         string
	rng         *fragment.Range
	total       int64
	transferred int64
	data        []byte
	restored    bool
}

// Coordinator owns every in-flight transfer. Operations, tasks and
// reassembly buffers are only touched with mu held; transport goroutines
// reach them through the did* handlers keyed by task ID.
type Coordinator struct {
	router       *transport.Router
	client       utils.HTTPDoer
	pinner       *pinning.Pinner
	limiter      *rate.Limiter
	store        *checkpoint.Store
	workers      int
	bufSize      int
	probeTimeout time.Duration

	mu            sync.Mutex
	launched      bool
	pinConfigured bool
	ops           map[bridge.OperationID]*operation
	tasks         map[bridge.TaskID]*task
}

func New(opts Options) *Coordinator {
	pinOpts := []pinning.Option{pinning.WithObserver(func(host string, d pinning.Disposition, _ *pinning.Credential) {
		metrics.PinDecisions.WithLabelValues(d.String()).Inc()
		log.Debug().Str("op", "engine/pinning").Str("host", host).Str("decision", d.String()).Msg("handshake evaluated")
	})}
	if opts.PinObserver != nil {
		pinOpts = append(pinOpts, pinning.WithObserver(opts.PinObserver))
	}
	if opts.PinRoots != nil {
		pinOpts = append(pinOpts, pinning.WithRoots(opts.PinRoots))
	}
	pinner := pinning.New(pinOpts...)

	httpCfg := opts.HTTP
	httpCfg.TLSHook = pinner
	client := utils.NewStreamingClient(httpCfg)

	router := opts.Router
	if router == nil {
		router = transport.NewRouter()
		router.Register(transport.NewHTTPFetcher(client), "http", "https")
		router.Register(transport.NewS3Fetcher(opts.S3Profile, opts.Workers), "s3")
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = utils.DefaultBufferSize
	}
	probeTimeout := opts.HTTP.Timeout
	if probeTimeout <= 0 {
		probeTimeout = 60 * time.Second
	}
	c := &Coordinator{
		router:       router,
		client:       client,
		pinner:       pinner,
		store:        opts.Checkpoints,
		workers:      opts.Workers,
		bufSize:      bufSize,
		probeTimeout: probeTimeout,
		ops:          make(map[bridge.OperationID]*operation),
		tasks:        make(map[bridge.TaskID]*task),
	}
	if opts.BandwidthLimit > 0 {
		burst := max(int(opts.BandwidthLimit), bufSize)
		c.limiter = rate.NewLimiter(rate.Limit(opts.BandwidthLimit), burst)
	}
	return c
}

// PlanFragments exposes the range partitioning used by fragmented downloads.
func (c *Coordinator) PlanFragments(length int64, count int) ([]fragment.Range, error) {
	plan, err := fragment.PlanFragments(length, count)
	if err != nil {
		return nil, err
	}
	return plan.Ranges, nil
}

// ConfigurePinning installs the pinning policy. It is accepted once and only
// before the first operation starts.
func (c *Coordinator) ConfigurePinning(policy pinning.Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.launched || c.pinConfigured {
		return ErrPinningLocked
	}
	c.pinner.Configure(policy)
	c.pinConfigured = true
	log.Info().Str("op", "engine/pinning").Int("hosts", policy.Len()).Msg("pinning configured")
	return nil
}

func (c *Coordinator) Pinner() *pinning.Pinner {
	return c.pinner
}

// Cancel cancels a running operation by ID.
func (c *Coordinator) Cancel(id bridge.OperationID) bool {
	c.mu.Lock()
	op, ok := c.ops[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return op.stream.Cancel()
}

// Active returns the number of operations still running.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func (c *Coordinator) newOperation(parent context.Context, kind opKind, rawURL string) *operation {
	ctx, cancel := context.WithCancel(parent)
	return &operation{
		id:     bridge.NewOperationID(),
		kind:   kind,
		url:    rawURL,
		ctx:    ctx,
		cancel: cancel,
		begun:  time.Now(),
		length: -1,
	}
}

func (c *Coordinator) register(op *operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launched = true
	c.ops[op.id] = op
}

// addTask must be called with mu held.
func (c *Coordinator) addTask(op *operation, rawURL string, rng *fragment.Range) *task {
	t := &task{id: bridge.NewTaskID(), op: op, url: rawURL, rng: rng, total: -1}
	c.tasks[t.id] = t
	op.tasks = append(op.tasks, t.id)
	return t
}

// release forgets the operation and its tasks and records its outcome.
func (c *Coordinator) release(op *operation, result string) {
	c.mu.Lock()
	for _, id := range op.tasks {
		delete(c.tasks, id)
	}
	delete(c.ops, op.id)
	c.mu.Unlock()
	op.cancel()
	metrics.Operations.WithLabelValues(string(op.kind), result).Inc()
	metrics.OperationDuration.WithLabelValues(string(op.kind)).Observe(time.Since(op.begun).Seconds())
	log.Debug().Str("op", "engine/"+string(op.kind)).Str("id", op.id.String()).Str("result", result).Msg("operation released")
}

func (c *Coordinator) probe(ctx context.Context, rawURL string) (*transport.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.router.Head(ctx, rawURL)
}

// outcome classifies how an operation ended.
func outcome(op *operation, err error) string {
	switch {
	case op.ctx.Err() != nil:
		return metrics.ResultCancelled
	case err != nil:
		return metrics.ResultFailure
	}
	return metrics.ResultSuccess
}
