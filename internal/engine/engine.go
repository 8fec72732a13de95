// Package engine runs the resource arbitration state machine. Resources are
// sharded into partitions by id range; each partition is served by one
// goroutine that owns its resource status exclusively and processes events
// in FIFO order, so no locking is needed inside the arbitration code.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/models"
	"github.com/boostd/boostd/internal/node"
	"github.com/boostd/boostd/internal/perfconfig"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// ErrStopped is returned by queries issued after the engine shut down.
var ErrStopped = errors.New("engine stopped")

// Reporter receives changed ReportExternally values, one batch per
// processed event batch.
type Reporter interface {
	Report(ctx context.Context, entries []models.ReportEntry) error
}

// Request is one (resource, action) event produced by the dispatcher. The
// owning partition stamps the expiry when it admits the request.
type Request struct {
	ResourceID int
	Value      int64
	Duration   time.Duration
	Category   models.Category
	OnOff      models.OnOff
	CmdID      int
}

// Off returns the release matching an On request.
func (r Request) Off() Request {
	r.OnOff = models.OnOffOff
	return r
}

// ResourceSnapshot is a point-in-time copy of one resource's state.
type ResourceSnapshot struct {
	ID                int
	Name              string
	Partition         int
	Default           int64
	Final             int64
	Current           int64
	CurrentExpiry     time.Time
	Candidates        [models.NumCategories]int64
	Active            [models.NumCategories]int
	PowerLimitBoost   bool
	ThermalLimitBoost bool
}

type options struct {
	clock    clock.WithDelayedExecution
	writer   node.Writer
	reporter Reporter
	logger   logr.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*options)

// WithClock replaces the wall clock used for expiry.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = c }
}

// WithReporter sets the sink for ReportExternally resources.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithLogger sets the parent logger.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine routes events to partition workers.
type Engine struct {
	cfg        *perfconfig.Model
	partitions map[int]*partition
	order      []int
	reports    *reportSink
	logger     logr.Logger
}

// New builds one partition per configured id range. Nothing runs until Run.
func New(cfg *perfconfig.Model, writer node.Writer, opts ...Option) *Engine {
	o := &options{
		clock:  clock.RealClock{},
		writer: writer,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithName("engine")
	e := &Engine{
		cfg:        cfg,
		partitions: make(map[int]*partition),
		order:      cfg.Partitions(),
		logger:     o.logger,
	}
	if o.reporter != nil {
		e.reports = newReportSink(o)
	}
	for _, id := range e.order {
		e.partitions[id] = newPartition(id, cfg, o, e.reports)
	}
	return e
}

// Run serves every partition, and the report sink when one is set, until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.reports != nil {
		g.Go(func() error {
			return e.reports.run(gctx)
		})
	}
	for _, id := range e.order {
		p := e.partitions[id]
		g.Go(func() error {
			return p.run(gctx)
		})
	}
	e.logger.Info("engine started", "partitions", len(e.order))
	err := g.Wait()
	e.logger.Info("engine stopped")
	return err
}

// Submit hands requests to their owning partitions. Requests for the same
// partition stay in order and are processed as one batch. Unknown
// resources are dropped.
func (e *Engine) Submit(reqs []Request) {
	batches := make(map[int][]event)
	var order []int
	for _, req := range reqs {
		if !e.cfg.IsValidResource(req.ResourceID) {
			e.logger.Error(errUnknownResource, "dropping request", "resource", req.ResourceID, "cmd", req.CmdID)
			continue
		}
		pid := perfconfig.Partition(req.ResourceID)
		if _, ok := batches[pid]; !ok {
			order = append(order, pid)
		}
		batches[pid] = append(batches[pid], event{kind: eventApply, resourceID: req.ResourceID, req: req})
	}
	for _, pid := range order {
		e.partitions[pid].mailbox.push(batches[pid])
	}
}

// SetLimitBoost toggles the global power or thermal limit boost in every
// partition.
func (e *Engine) SetLimitBoost(c models.Category, on bool) {
	e.broadcast(event{kind: eventLimitBoost, category: c, on: on})
}

// ClearCategory drops every active request of category c in every
// partition.
func (e *Engine) ClearCategory(c models.Category) {
	e.broadcast(event{kind: eventClear, category: c})
}

func (e *Engine) broadcast(ev event) {
	for _, id := range e.order {
		e.partitions[id].mailbox.push([]event{ev})
	}
}

// Flush waits until every partition has processed the events submitted
// before the call and the reports they produced were delivered.
func (e *Engine) Flush(ctx context.Context) error {
	dones := make([]chan struct{}, 0, len(e.order))
	for _, id := range e.order {
		done := make(chan struct{})
		if !e.partitions[id].mailbox.push([]event{{kind: eventBarrier, done: done}}) {
			return ErrStopped
		}
		dones = append(dones, done)
	}
	if err := waitAll(ctx, dones); err != nil {
		return err
	}
	if e.reports == nil {
		return nil
	}
	done, ok := e.reports.barrier()
	if !ok {
		return ErrStopped
	}
	return waitAll(ctx, []chan struct{}{done})
}

func waitAll(ctx context.Context, dones []chan struct{}) error {
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Snapshot collects the state of every resource through each partition's
// own queue, sorted by resource id.
func (e *Engine) Snapshot(ctx context.Context) ([]ResourceSnapshot, error) {
	replies := make([]chan []ResourceSnapshot, 0, len(e.order))
	for _, id := range e.order {
		reply := make(chan []ResourceSnapshot, 1)
		if !e.partitions[id].mailbox.push([]event{{kind: eventSnapshot, snapshot: reply}}) {
			return nil, ErrStopped
		}
		replies = append(replies, reply)
	}
	var out []ResourceSnapshot
	for _, reply := range replies {
		select {
		case snaps, ok := <-reply:
			if !ok {
				return nil, ErrStopped
			}
			out = append(out, snaps...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
