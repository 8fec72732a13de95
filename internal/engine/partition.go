package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/models"
	"github.com/boostd/boostd/internal/node"
	"github.com/boostd/boostd/internal/perfconfig"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

var (
	errUnknownResource = errors.New("unknown resource")
	errNoGovernorLevel = errors.New("no governor strings for level")
)

type eventKind int

const (
	eventApply eventKind = iota
	eventExpire
	eventLimitBoost
	eventClear
	eventBarrier
	eventSnapshot
)

func (k eventKind) String() string {
	switch k {
	case eventApply:
		return "apply"
	case eventExpire:
		return "expire"
	case eventLimitBoost:
		return "limit_boost"
	case eventClear:
		return "clear"
	case eventBarrier:
		return "barrier"
	case eventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

type event struct {
	kind       eventKind
	resourceID int
	req        Request
	action     *models.ResAction
	category   models.Category
	on         bool
	done       chan struct{}
	snapshot   chan<- []ResourceSnapshot
}

// mailbox is an unbounded FIFO. push never blocks, so timer callbacks and
// client goroutines can always hand work over. Items still queued at close
// go to release.
type mailbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	closed  bool
	ready   chan struct{}
	release func(T)
}

func newMailbox[T any](release func(T)) *mailbox[T] {
	return &mailbox[T]{ready: make(chan struct{}, 1), release: release}
}

func (m *mailbox[T]) push(item T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, item)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox[T]) pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.queue) == 0 {
		return zero, false
	}
	item := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	return item, true
}

func (m *mailbox[T]) depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// close rejects further pushes and releases what is still queued.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()
	if m.release == nil {
		return
	}
	for _, item := range pending {
		m.release(item)
	}
}

// releaseEvents frees anyone waiting on queued barriers or snapshots.
func releaseEvents(batch []event) {
	for _, ev := range batch {
		if ev.done != nil {
			close(ev.done)
		}
		if ev.snapshot != nil {
			close(ev.snapshot)
		}
	}
}

// partition owns one shard of resource state. Everything below run is
// single-threaded.
type partition struct {
	id        int
	status    map[int]*resourceStatus
	ids       []int
	reportIDs []int
	boost     limitBoost

	mailbox *mailbox[[]event]
	clock   clock.WithDelayedExecution
	writer  node.Writer
	reports *reportSink
	logger  logr.Logger
	metrics *metrics.Metrics

	initialized bool
}

func newPartition(id int, cfg *perfconfig.Model, o *options, reports *reportSink) *partition {
	p := &partition{
		id:      id,
		status:  make(map[int]*resourceStatus),
		mailbox: newMailbox(releaseEvents),
		clock:   o.clock,
		writer:  o.writer,
		reports: reports,
		logger:  o.logger.WithName("partition").WithValues("partition", id),
		metrics: o.metrics,
	}
	for _, rid := range cfg.ResourcesIn(id) {
		desc, _ := cfg.Resource(rid)
		p.status[rid] = newResourceStatus(desc)
		p.ids = append(p.ids, rid)
		if desc.Persist == models.PersistReportExternally {
			p.reportIDs = append(p.reportIDs, rid)
		}
	}
	return p
}

func (p *partition) run(ctx context.Context) error {
	p.init()
	p.drain()
	for {
		select {
		case <-ctx.Done():
			p.mailbox.close()
			return nil
		case <-p.mailbox.ready:
			p.drain()
		}
	}
}

// init writes every node resource's default so hardware starts from a
// known state.
func (p *partition) init() {
	if p.initialized {
		return
	}
	p.initialized = true
	for _, id := range p.ids {
		st := p.status[id]
		if st.desc.Persist == models.PersistWriteToNode {
			p.writeValue(st, st.current)
		}
	}
	p.logger.V(1).Info("partition initialized", "resources", len(p.ids))
}

func (p *partition) drain() {
	for {
		batch, ok := p.mailbox.pop()
		if !ok {
			p.metrics.SetMailboxDepth(p.id, 0)
			return
		}
		p.process(batch)
	}
}

func (p *partition) process(batch []event) {
	start := p.clock.Now()
	var waiters []chan struct{}
	for _, ev := range batch {
		p.metrics.IncEngineEvent(ev.kind.String())
		switch ev.kind {
		case eventApply:
			p.apply(ev.resourceID, p.admit(ev.req), false)
		case eventExpire:
			if ev.action == nil {
				continue
			}
			p.apply(ev.resourceID, ev.action, true)
		case eventLimitBoost:
			p.setLimitBoost(ev.category, ev.on)
		case eventClear:
			p.clearCategory(ev.category)
		case eventBarrier:
			waiters = append(waiters, ev.done)
		case eventSnapshot:
			ev.snapshot <- p.snapshot()
			close(ev.snapshot)
		}
	}
	p.flushReports()
	for _, c := range models.Categories {
		n := 0
		for _, id := range p.ids {
			n += p.status[id].activeCount(c)
		}
		p.metrics.SetActiveRequests(p.id, c.String(), n)
	}
	for _, done := range waiters {
		close(done)
	}
	p.metrics.ObserveBatch(p.clock.Since(start))
	p.metrics.SetMailboxDepth(p.id, p.mailbox.depth())
}

// admit turns a request into the ResAction tracked by the status store.
func (p *partition) admit(req Request) *models.ResAction {
	action := &models.ResAction{
		Value:    req.Value,
		Duration: req.Duration,
		Category: req.Category,
		OnOff:    req.OnOff,
		CmdID:    req.CmdID,
		Expiry:   models.Forever,
	}
	if req.Duration > 0 {
		action.Expiry = p.clock.Now().Add(req.Duration)
	}
	return action
}

func (p *partition) apply(resourceID int, action *models.ResAction, delayedExpiry bool) {
	st, ok := p.status[resourceID]
	if !ok {
		p.logger.Error(errUnknownResource, "dropping event", "resource", resourceID)
		return
	}
	if !action.Category.Valid() {
		p.logger.Error(errors.New("unknown category"), "dropping event", "resource", resourceID, "category", int(action.Category))
		return
	}
	c := action.Category
	if delayedExpiry {
		if !st.removeExact(action) {
			return
		}
	} else {
		switch action.OnOff {
		case models.OnOffInvalid:
			st.add(action)
			p.scheduleExpiry(resourceID, action)
		case models.OnOffOn:
			if action.Duration == 0 {
				st.removeTotallySame(action)
				st.add(action)
			} else {
				st.add(action)
				p.scheduleExpiry(resourceID, action)
			}
		case models.OnOffOff:
			if !st.removeMatchingOn(action) {
				return
			}
		}
	}
	if st.recompute(c) {
		p.arbitrate(st)
	}
}

// scheduleExpiry re-submits the action into this partition's own queue once
// its duration has elapsed.
func (p *partition) scheduleExpiry(resourceID int, action *models.ResAction) {
	p.clock.AfterFunc(action.Duration, func() {
		p.mailbox.push([]event{{kind: eventExpire, resourceID: resourceID, action: action}})
	})
}

func (p *partition) setLimitBoost(c models.Category, on bool) {
	switch c {
	case models.CategoryPower:
		if p.boost.power == on {
			return
		}
		p.boost.power = on
	case models.CategoryThermal:
		if p.boost.thermal == on {
			return
		}
		p.boost.thermal = on
	default:
		return
	}
	all := make([]*resourceStatus, 0, len(p.ids))
	for _, id := range p.ids {
		all = append(all, p.status[id])
	}
	p.arbitrate(all...)
}

func (p *partition) clearCategory(c models.Category) {
	var changed []*resourceStatus
	for _, id := range p.ids {
		st := p.status[id]
		if st.clear(c) == 0 {
			continue
		}
		if st.recompute(c) {
			changed = append(changed, st)
		}
	}
	p.arbitrate(changed...)
}

// arbitrate recomputes the cross-category winner of every given resource
// and then applies them through pairing, so a pair touched by the same
// event never sees a stale partner.
func (p *partition) arbitrate(sts ...*resourceStatus) {
	for _, st := range sts {
		st.final, st.finalExpiry = finalCandidate(st.candidate, st.candidateExpiry, st.desc.Default, p.boost)
	}
	for _, st := range sts {
		p.arbitratePair(st)
	}
}

func (p *partition) arbitratePair(st *resourceStatus) {
	pairID, ok := st.desc.PairedID()
	if !ok {
		p.updateCurrent(st, st.final, st.finalExpiry)
		return
	}
	partner, ok := p.status[pairID]
	if !ok {
		p.updateCurrent(st, st.final, st.finalExpiry)
		return
	}
	lo, hi := st, partner
	if st.desc.MaxValueSemantics {
		lo, hi = partner, st
	}
	limited := p.boost.any() || perfLevelLimited(lo) || perfLevelLimited(hi)
	loValue, hiValue := resolvePair(lo.final, hi.final, limited)
	p.updateCurrent(lo, loValue, lo.finalExpiry)
	p.updateCurrent(hi, hiValue, hi.finalExpiry)
}

// perfLevelLimited reports whether a perf-level request caps st.
func perfLevelLimited(st *resourceStatus) bool {
	return st.has(models.CategoryPerfLevel) && st.desc.MaxValueSemantics
}

func (p *partition) updateCurrent(st *resourceStatus, value int64, expiry time.Time) {
	st.currentExpiry = expiry
	if value == st.current {
		return
	}
	st.current = value
	if st.desc.Persist == models.PersistReportExternally {
		return
	}
	p.writeValue(st, value)
}

// writeValue pushes value to hardware. Failures are logged and the
// in-memory state is kept.
func (p *partition) writeValue(st *resourceStatus, value int64) {
	switch n := st.desc.Node.(type) {
	case models.GovernorNode:
		strs, ok := n.Levels[value]
		if !ok {
			p.logger.Error(errNoGovernorLevel, "skipping governor write", "resource", st.desc.ID, "level", value)
			return
		}
		for i, path := range n.Paths {
			p.write(st, path, strs[i])
		}
	case models.PlainNode:
		p.write(st, n.Path, strconv.FormatInt(value, 10))
	}
}

func (p *partition) write(st *resourceStatus, path, value string) {
	err := p.writer.Write(path, value)
	p.metrics.IncNodeWrite(err == nil)
	if err != nil {
		p.logger.Error(err, "node write failed", "resource", st.desc.ID, "path", path, "value", value)
		return
	}
	p.logger.V(2).Info("node written", "resource", st.desc.ID, "path", path, "value", value)
}

// flushReports hands every ReportExternally value that changed since the
// last report to the sink as one batch.
func (p *partition) flushReports() {
	var entries []models.ReportEntry
	for _, id := range p.reportIDs {
		st := p.status[id]
		if st.current == st.previous && st.currentExpiry.Equal(st.previousExpiry) {
			continue
		}
		st.previous = st.current
		st.previousExpiry = st.currentExpiry
		entries = append(entries, models.ReportEntry{ResourceID: id, Value: st.current, Expiry: st.currentExpiry})
	}
	if len(entries) == 0 || p.reports == nil {
		return
	}
	p.reports.enqueue(p.id, entries)
}

func (p *partition) snapshot() []ResourceSnapshot {
	out := make([]ResourceSnapshot, 0, len(p.ids))
	for _, id := range p.ids {
		st := p.status[id]
		snap := ResourceSnapshot{
			ID:                id,
			Name:              st.desc.Name,
			Partition:         p.id,
			Default:           st.desc.Default,
			Final:             st.final,
			Current:           st.current,
			CurrentExpiry:     st.currentExpiry,
			PowerLimitBoost:   p.boost.power,
			ThermalLimitBoost: p.boost.thermal,
		}
		for _, c := range models.Categories {
			snap.Candidates[c] = st.candidate[c]
			snap.Active[c] = st.activeCount(c)
		}
		out = append(out, snap)
	}
	return out
}
