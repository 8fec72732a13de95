// Package dispatch is the front door of boostd. It turns client requests
// into per-resource engine requests: it expands action bundles, applies
// device-mode substitution and the thermal perf-level cascade, keeps the
// per-client limit clamps, and gates everything on the global enable flag.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/boostd/boostd/internal/db"
	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/models"
	"github.com/boostd/boostd/internal/perfconfig"
)

// Bounds enforced on client input.
const (
	MaxStringLen    = 256
	MaxLimitEntries = 64
)

// Engine is the part of the arbitration engine the dispatcher drives.
type Engine interface {
	Submit(reqs []engine.Request)
	SetLimitBoost(c models.Category, on bool)
	ClearCategory(c models.Category)
}

// Journal records handled requests. Failures are logged and ignored.
type Journal interface {
	RecordEvent(ctx context.Context, ev db.Event) error
}

type limitClient struct {
	category models.Category
	cmdID    int
}

// Limit clients and the reserved cmd ids their clamps are issued under.
var limitClients = map[string]limitClient{
	"power":   {category: models.CategoryPower, cmdID: -1},
	"thermal": {category: models.CategoryThermal, cmdID: -2},
}

// LimitClients returns the accepted limit client names, sorted.
func LimitClients() []string {
	out := make([]string, 0, len(limitClients))
	for name := range limitClients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Status is a point-in-time view of dispatcher state.
type Status struct {
	Enabled           bool
	ThermalLevel      int
	Modes             []string
	PowerLimitBoost   bool
	ThermalLimitBoost bool
	Clamps            map[string]map[int]int64
	Toggles           []int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the parent logger.
func WithLogger(l logr.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics counts requests by kind and result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithJournal records every handled request.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// Dispatcher implements the client-facing operations.
type Dispatcher struct {
	cfg     *perfconfig.Model
	engine  Engine
	logger  logr.Logger
	metrics *metrics.Metrics
	journal Journal

	// gateMu is held shared from the enable check of a bundle request
	// through its engine submit, and exclusively while the flag changes.
	gateMu       sync.RWMutex
	enabled      atomic.Bool
	thermalLevel atomic.Int64

	modesMu sync.Mutex
	modes   map[string]struct{}

	countsMu sync.Mutex
	counts   map[int]int

	clampsMu sync.Mutex
	clamps   map[string]map[int]int64

	togglesMu sync.Mutex
	toggles   map[int][]engine.Request

	boostMu      sync.Mutex
	powerBoost   bool
	thermalBoost bool
}

// New creates an enabled dispatcher at thermal level 0 with no active modes.
func New(cfg *perfconfig.Model, eng Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		engine:  eng,
		logger:  logr.Discard(),
		modes:   make(map[string]struct{}),
		counts:  make(map[int]int),
		clamps:  make(map[string]map[int]int64),
		toggles: make(map[int][]engine.Request),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithName("dispatch")
	d.enabled.Store(true)
	return d
}

// SubmitPerfRequest fires the bundle cmdID. Every setting expires on its own
// after its step duration; a zero-duration step is released right away.
func (d *Dispatcher) SubmitPerfRequest(ctx context.Context, cmdID int, msg string) error {
	d.gateMu.RLock()
	b, err := d.lookup(cmdID, msg)
	if err != nil {
		d.gateMu.RUnlock()
		return d.reject(ctx, "perf", cmdID, err)
	}
	target := d.substitute(b, false)
	reqs := d.expand(target, models.OnOffInvalid)
	d.engine.Submit(reqs)
	d.gateMu.RUnlock()

	d.count(cmdID)
	d.accept(ctx, "perf", &cmdID, "", msg, map[string]any{"cmd": target.ID, "requests": len(reqs)})
	return nil
}

// SubmitPerfRequestToggle turns the bundle cmdID on or off. The expansion
// issued by On is remembered and replayed as Off, so later mode or thermal
// changes cannot strand it.
func (d *Dispatcher) SubmitPerfRequestToggle(ctx context.Context, cmdID int, on bool, msg string) error {
	kind := "toggle_off"
	if on {
		kind = "toggle_on"
	}
	d.gateMu.RLock()
	b, err := d.lookup(cmdID, msg)
	// releasing is allowed while disabled
	if err != nil && (on || !errors.Is(err, ErrDisabled)) {
		d.gateMu.RUnlock()
		return d.reject(ctx, kind, cmdID, err)
	}

	d.togglesMu.Lock()
	prev := d.toggles[cmdID]
	var reqs []engine.Request
	for _, r := range prev {
		reqs = append(reqs, r.Off())
	}
	if on {
		issued := d.expand(d.substitute(b, true), models.OnOffOn)
		reqs = append(reqs, issued...)
		d.toggles[cmdID] = issued
	} else {
		delete(d.toggles, cmdID)
	}
	if len(reqs) > 0 {
		d.engine.Submit(reqs)
	}
	d.togglesMu.Unlock()
	d.gateMu.RUnlock()

	d.count(cmdID)
	d.accept(ctx, kind, &cmdID, "", msg, map[string]any{"released": len(prev), "requests": len(reqs) - len(prev)})
	return nil
}

// SubmitPowerLimitBoost lets Power requests win over Perf requests.
func (d *Dispatcher) SubmitPowerLimitBoost(ctx context.Context, on bool, msg string) error {
	return d.setLimitBoost(ctx, models.CategoryPower, on, msg)
}

// SubmitThermalLimitBoost lets Thermal requests win over Perf requests.
func (d *Dispatcher) SubmitThermalLimitBoost(ctx context.Context, on bool, msg string) error {
	return d.setLimitBoost(ctx, models.CategoryThermal, on, msg)
}

func (d *Dispatcher) setLimitBoost(ctx context.Context, c models.Category, on bool, msg string) error {
	kind := c.String() + "_limit_boost"
	if len(msg) > MaxStringLen {
		return d.reject(ctx, kind, 0, rejectf(ErrRequestTooLarge, "message is %d bytes", len(msg)))
	}
	d.boostMu.Lock()
	if c == models.CategoryPower {
		d.powerBoost = on
	} else {
		d.thermalBoost = on
	}
	d.engine.SetLimitBoost(c, on)
	d.boostMu.Unlock()
	d.accept(ctx, kind, nil, "", msg, map[string]any{"on": on})
	return nil
}

// SubmitLimitRequest replaces the clamps of client on the given resources.
// A negative value releases the clamp. The whole request is validated
// before any event is emitted.
func (d *Dispatcher) SubmitLimitRequest(ctx context.Context, client string, tags []string, values []int64, msg string) error {
	ids, err := d.validateLimit(client, tags, values, msg)
	if err != nil {
		return d.reject(ctx, "limit", 0, err)
	}
	lc := limitClients[client]

	d.clampsMu.Lock()
	current := d.clamps[client]
	if current == nil {
		current = make(map[int]int64)
		d.clamps[client] = current
	}
	var reqs []engine.Request
	for i, id := range ids {
		value := values[i]
		old, held := current[id]
		if held && old == value {
			continue
		}
		if held {
			reqs = append(reqs, clampRequest(lc, id, old, models.OnOffOff))
			delete(current, id)
		}
		if value < 0 {
			continue
		}
		reqs = append(reqs, clampRequest(lc, id, value, models.OnOffOn))
		current[id] = value
	}
	if len(reqs) > 0 {
		d.engine.Submit(reqs)
	}
	d.clampsMu.Unlock()

	detail := make(map[string]int64, len(ids))
	for i, id := range ids {
		detail[strconv.Itoa(id)] = values[i]
	}
	d.accept(ctx, "limit", nil, client, msg, detail)
	return nil
}

func (d *Dispatcher) validateLimit(client string, tags []string, values []int64, msg string) ([]int, error) {
	if len(msg) > MaxStringLen {
		return nil, rejectf(ErrRequestTooLarge, "message is %d bytes", len(msg))
	}
	if len(tags) != len(values) {
		return nil, rejectf(ErrLengthMismatch, "%d resources, %d values", len(tags), len(values))
	}
	if len(tags) > MaxLimitEntries {
		return nil, rejectf(ErrRequestTooLarge, "%d entries exceeds %d", len(tags), MaxLimitEntries)
	}
	if _, ok := limitClients[client]; !ok {
		return nil, rejectf(ErrUnknownClient, "%q", client)
	}
	ids := make([]int, 0, len(tags))
	for i, tag := range tags {
		if len(tag) > MaxStringLen {
			return nil, rejectf(ErrRequestTooLarge, "resource tag is %d bytes", len(tag))
		}
		desc, ok := d.cfg.ResolveResource(tag)
		if !ok {
			return nil, rejectf(ErrUnknownResource, "%q", tag)
		}
		v := values[i]
		if v >= 0 && desc.Persist == models.PersistWriteToNode && !desc.Allows(v) {
			return nil, rejectf(ErrValueOutOfDomain, "%s=%d", desc.Name, v)
		}
		ids = append(ids, desc.ID)
	}
	return ids, nil
}

func clampRequest(lc limitClient, id int, value int64, onOff models.OnOff) engine.Request {
	return engine.Request{ResourceID: id, Value: value, Category: lc.category, OnOff: onOff, CmdID: lc.cmdID}
}

// SetEnabled turns boosting on or off. Disabling drops every Perf request
// in the engine and forgets Perf toggles.
func (d *Dispatcher) SetEnabled(ctx context.Context, enabled bool, reason string) error {
	if len(reason) > MaxStringLen {
		return d.reject(ctx, "enabled", 0, rejectf(ErrRequestTooLarge, "reason is %d bytes", len(reason)))
	}
	d.gateMu.Lock()
	if d.enabled.Swap(enabled) == enabled {
		d.gateMu.Unlock()
		return nil
	}
	if !enabled {
		d.dropPerf()
	}
	d.gateMu.Unlock()
	d.logger.Info("boosting state changed", "enabled", enabled, "reason", reason)
	d.accept(ctx, "enabled", nil, "", reason, map[string]any{"enabled": enabled})
	return nil
}

func (d *Dispatcher) dropPerf() {
	d.togglesMu.Lock()
	defer d.togglesMu.Unlock()
	var release []engine.Request
	for cmdID, issued := range d.toggles {
		b, ok := d.cfg.Bundle(cmdID)
		if !ok || b.Category != models.CategoryPerf {
			continue
		}
		// perf-level entries of a perf toggle are not in the Perf lane
		for _, r := range issued {
			if r.Category != models.CategoryPerf {
				release = append(release, r.Off())
			}
		}
		delete(d.toggles, cmdID)
	}
	if len(release) > 0 {
		d.engine.Submit(release)
	}
	d.engine.ClearCategory(models.CategoryPerf)
}

// Enabled reports whether boosting is enabled.
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// SetThermalLevel sets the level used by the perf-level cascade of later
// requests.
func (d *Dispatcher) SetThermalLevel(ctx context.Context, level int) error {
	if level < 0 {
		return d.reject(ctx, "thermal_level", 0, rejectf(ErrValueOutOfDomain, "thermal level %d", level))
	}
	prev := d.thermalLevel.Swap(int64(level))
	if prev != int64(level) {
		d.logger.V(1).Info("thermal level changed", "from", prev, "to", level)
	}
	d.accept(ctx, "thermal_level", nil, "", "", map[string]any{"level": level})
	return nil
}

// ThermalLevel returns the current thermal level.
func (d *Dispatcher) ThermalLevel() int {
	return int(d.thermalLevel.Load())
}

// SetDeviceMode marks mode active or inactive.
func (d *Dispatcher) SetDeviceMode(ctx context.Context, mode string, active bool) error {
	mode = strings.TrimSpace(mode)
	switch {
	case mode == "":
		return d.reject(ctx, "device_mode", 0, rejectf(ErrInvalidMode, "mode is required"))
	case len(mode) > MaxStringLen:
		return d.reject(ctx, "device_mode", 0, rejectf(ErrRequestTooLarge, "mode is %d bytes", len(mode)))
	}
	d.modesMu.Lock()
	if active {
		d.modes[mode] = struct{}{}
	} else {
		delete(d.modes, mode)
	}
	d.modesMu.Unlock()
	d.accept(ctx, "device_mode", nil, "", mode, map[string]any{"active": active})
	return nil
}

// ActiveModes returns the active device modes, sorted.
func (d *Dispatcher) ActiveModes() []string {
	d.modesMu.Lock()
	defer d.modesMu.Unlock()
	out := make([]string, 0, len(d.modes))
	for mode := range d.modes {
		out = append(out, mode)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) modeActive(mode string) bool {
	d.modesMu.Lock()
	defer d.modesMu.Unlock()
	_, ok := d.modes[mode]
	return ok
}

// CmdIDCounts formats how often each cmd id was requested as
// "id:count,id:count" in ascending id order.
func (d *Dispatcher) CmdIDCounts() string {
	d.countsMu.Lock()
	defer d.countsMu.Unlock()
	ids := make([]int, 0, len(d.counts))
	for id := range d.counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id)+":"+strconv.Itoa(d.counts[id]))
	}
	return strings.Join(parts, ",")
}

func (d *Dispatcher) count(cmdID int) {
	d.countsMu.Lock()
	d.counts[cmdID]++
	d.countsMu.Unlock()
}

// Clamps returns a copy of the per-client clamp maps.
func (d *Dispatcher) Clamps() map[string]map[int]int64 {
	d.clampsMu.Lock()
	defer d.clampsMu.Unlock()
	out := make(map[string]map[int]int64, len(d.clamps))
	for client, m := range d.clamps {
		if len(m) == 0 {
			continue
		}
		cp := make(map[int]int64, len(m))
		for id, v := range m {
			cp[id] = v
		}
		out[client] = cp
	}
	return out
}

// Status collects enable state, thermal level, modes, boosts, clamps and
// active toggles.
func (d *Dispatcher) Status() Status {
	s := Status{
		Enabled:      d.Enabled(),
		ThermalLevel: d.ThermalLevel(),
		Modes:        d.ActiveModes(),
		Clamps:       d.Clamps(),
	}
	d.boostMu.Lock()
	s.PowerLimitBoost = d.powerBoost
	s.ThermalLimitBoost = d.thermalBoost
	d.boostMu.Unlock()
	d.togglesMu.Lock()
	for id := range d.toggles {
		s.Toggles = append(s.Toggles, id)
	}
	d.togglesMu.Unlock()
	sort.Ints(s.Toggles)
	return s
}

// lookup validates msg and resolves cmdID, honouring the enable flag.
func (d *Dispatcher) lookup(cmdID int, msg string) (*models.ActionBundle, error) {
	if len(msg) > MaxStringLen {
		return nil, rejectf(ErrRequestTooLarge, "message is %d bytes", len(msg))
	}
	b, ok := d.cfg.Bundle(cmdID)
	if !ok {
		return nil, rejectf(ErrUnknownCommand, "%d", cmdID)
	}
	if !d.Enabled() && gated(b.Category) {
		return b, rejectf(ErrDisabled, "command %d", cmdID)
	}
	return b, nil
}

func gated(c models.Category) bool {
	return c == models.CategoryPerf || c == models.CategoryPower || c == models.CategoryThermal
}

// substitute applies the first mode override whose mode is active. A
// toggled long-running bundle is never substituted, nor replaced by a
// long-running alternate.
func (d *Dispatcher) substitute(b *models.ActionBundle, toggled bool) *models.ActionBundle {
	if b.Category != models.CategoryPerf || (toggled && b.LongRunning()) {
		return b
	}
	for _, o := range b.ModeOverrides {
		if !d.modeActive(o.Mode) {
			continue
		}
		alt, ok := d.cfg.Bundle(o.CmdID)
		if !ok || (toggled && alt.LongRunning()) {
			continue
		}
		d.logger.V(1).Info("device mode substitution", "cmd", b.ID, "mode", o.Mode, "substitute", alt.ID)
		return alt
	}
	return b
}

// expand turns every step of b into engine requests. Steps run
// concurrently, each with its own duration. A step with a thermal trigger
// also yields PerfLevel requests, ahead of its own settings, while the
// thermal level is above zero.
func (d *Dispatcher) expand(b *models.ActionBundle, onOff models.OnOff) []engine.Request {
	level := d.ThermalLevel()
	var reqs []engine.Request
	for _, step := range b.Steps {
		if step.ThermalTriggerCmdID != 0 && level > 0 {
			if trigger, ok := d.cfg.Bundle(step.ThermalTriggerCmdID); ok {
				if ts := perfLevelStep(trigger, level); ts != nil {
					for _, s := range ts.Settings {
						reqs = append(reqs, engine.Request{
							ResourceID: s.ResourceID,
							Value:      s.Value,
							Duration:   step.Duration,
							Category:   models.CategoryPerfLevel,
							OnOff:      onOff,
							CmdID:      b.ID,
						})
					}
				}
			}
		}
		for _, s := range step.Settings {
			reqs = append(reqs, engine.Request{
				ResourceID: s.ResourceID,
				Value:      s.Value,
				Duration:   step.Duration,
				Category:   b.Category,
				OnOff:      onOff,
				CmdID:      b.ID,
			})
		}
	}
	return reqs
}

// perfLevelStep picks the step with the highest thermal level not above
// level. Among equal levels the last step wins.
func perfLevelStep(b *models.ActionBundle, level int) *models.ActionStep {
	var best *models.ActionStep
	bestLevel := -1
	for i := range b.Steps {
		st := &b.Steps[i]
		if st.ThermalLevel < 0 || st.ThermalLevel > level {
			continue
		}
		if st.ThermalLevel >= bestLevel {
			best = st
			bestLevel = st.ThermalLevel
		}
	}
	return best
}

func (d *Dispatcher) accept(ctx context.Context, kind string, cmdID *int, client, msg string, detail any) {
	d.metrics.IncRequest(kind, "accepted")
	d.logger.V(1).Info("request accepted", "kind", kind, "requestID", RequestID(ctx))
	d.record(ctx, db.Event{Kind: kind, CmdID: cmdID, Client: client, Message: msg}, detail)
}

func (d *Dispatcher) reject(ctx context.Context, kind string, cmdID int, err error) error {
	d.metrics.IncRequest(kind, "rejected")
	d.logger.V(1).Info("request rejected", "kind", kind, "requestID", RequestID(ctx), "error", err.Error())
	ev := db.Event{Kind: kind + "_rejected", Message: err.Error()}
	if cmdID != 0 {
		ev.CmdID = &cmdID
	}
	d.record(ctx, ev, nil)
	return err
}

func (d *Dispatcher) record(ctx context.Context, ev db.Event, detail any) {
	if d.journal == nil {
		return
	}
	ev.RequestID = RequestID(ctx)
	if detail != nil {
		if data, err := json.Marshal(detail); err == nil {
			ev.JSON = string(data)
		}
	}
	if err := d.journal.RecordEvent(ctx, ev); err != nil {
		d.logger.Error(err, "journal write failed", "kind", ev.Kind)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is logged and journaled with the
// request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
