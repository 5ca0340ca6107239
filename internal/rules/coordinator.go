package rules

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Engine is a pluggable rule engine.
type Engine interface {
	Type() EngineType
	Evaluate(ec *EvalContext) []CheckResult
}

// cacheClearer is implemented by engines that cache derived data.
type cacheClearer interface {
	ClearCache()
}

// GlobalRule is an ad-hoc check run after the engines.
type GlobalRule struct {
	Tag      equipment.Tag
	Priority equipment.Priority
	Check    func(ec *EvalContext) CheckResult
}

// EngineMetrics are the execution counters for one engine.
type EngineMetrics struct {
	Engine     EngineType         `json:"engine"`
	Priority   equipment.Priority `json:"priority"`
	Enabled    bool               `json:"enabled"`
	Executions uint64             `json:"executions"`
	Failures   uint64             `json:"failures"`
	TotalTime  time.Duration      `json:"total_time"`
}

// AverageTime returns the mean execution time.
func (m EngineMetrics) AverageTime() time.Duration {
	if m.Executions == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Executions)
}

// CoordinatorStats summarizes coordinator activity.
type CoordinatorStats struct {
	Evaluations uint64          `json:"evaluations"`
	Rejections  uint64          `json:"rejections"`
	EarlyStops  uint64          `json:"early_stops"`
	Engines     []EngineMetrics `json:"engines"`
}

type registration struct {
	engine   Engine
	priority equipment.Priority
	enabled  bool
	order    int
}

type engineCounters struct {
	executions uint64
	failures   uint64
	total      time.Duration
}

// DefaultExcludedSlots are never validated by the engines.
var DefaultExcludedSlots = equipment.TagSet{equipment.SlotCosmetic, equipment.SlotBadge}

// Coordinator runs the rule engines in priority order.
type Coordinator struct {
	catalog  equipment.ItemCatalog
	excluded equipment.TagSet

	mu       sync.RWMutex
	engines  map[EngineType]*registration
	globals  map[equipment.Tag]GlobalRule
	disabled map[equipment.Tag]bool
	nextID   int

	metricsMu   sync.Mutex
	counters    map[EngineType]*engineCounters
	evaluations uint64
	rejections  uint64
	earlyStops  uint64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithExcludedSlots replaces the set of slot tags the engines skip.
func WithExcludedSlots(tags equipment.TagSet) CoordinatorOption {
	return func(c *Coordinator) {
		c.excluded = tags
	}
}

// NewCoordinator creates a coordinator with no engines.
func NewCoordinator(catalog equipment.ItemCatalog, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		catalog:  catalog,
		excluded: DefaultExcludedSlots,
		engines:  make(map[EngineType]*registration),
		globals:  make(map[equipment.Tag]GlobalRule),
		disabled: make(map[equipment.Tag]bool),
		counters: make(map[EngineType]*engineCounters),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultCoordinator creates a coordinator with the four standard
// engines at their standard priorities.
func NewDefaultCoordinator(catalog equipment.ItemCatalog, weight WeightConfig, opts ...CoordinatorOption) *Coordinator {
	c := NewCoordinator(catalog, opts...)
	c.RegisterEngine(NewCompatibilityEngine(), equipment.PriorityCritical)
	c.RegisterEngine(NewRequirementEngine(), equipment.PriorityHigh)
	c.RegisterEngine(NewWeightEngine(weight), equipment.PriorityNormal)
	c.RegisterEngine(NewConflictEngine(), equipment.PriorityLow)
	return c
}

// Catalog returns the item catalog.
func (c *Coordinator) Catalog() equipment.ItemCatalog {
	return c.catalog
}

// RegisterEngine adds or replaces the engine of e's type.
func (c *Coordinator) RegisterEngine(e Engine, priority equipment.Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.engines[e.Type()] = &registration{engine: e, priority: priority, enabled: true, order: c.nextID}
	slog.Debug("rule engine registered", "engine", e.Type(), "priority", priority)
}

// UnregisterEngine removes an engine. Returns false if none was registered.
func (c *Coordinator) UnregisterEngine(t EngineType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.engines[t]; !ok {
		return false
	}
	delete(c.engines, t)
	return true
}

// SetEngineEnabled enables or disables an engine.
func (c *Coordinator) SetEngineEnabled(t EngineType, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.engines[t]
	if ok {
		reg.enabled = enabled
	}
	return ok
}

// IsEngineEnabled reports whether an engine is registered and enabled.
func (c *Coordinator) IsEngineEnabled(t EngineType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.engines[t]
	return ok && reg.enabled
}

// Engine returns the registered engine of type t.
func (c *Coordinator) Engine(t EngineType) (Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.engines[t]
	if !ok {
		return nil, false
	}
	return reg.engine, true
}

// RegisterGlobalRule adds or replaces a global rule.
func (c *Coordinator) RegisterGlobalRule(r GlobalRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals[r.Tag] = r
}

// SetGlobalRuleEnabled enables or disables a global rule by tag.
func (c *Coordinator) SetGlobalRuleEnabled(tag equipment.Tag, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		delete(c.disabled, tag)
	} else {
		c.disabled[tag] = true
	}
}

// ClearRuleCache drops every engine cache.
func (c *Coordinator) ClearRuleCache() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, reg := range c.engines {
		if cc, ok := reg.engine.(cacheClearer); ok {
			cc.ClearCache()
		}
	}
}

// sortedEngines returns enabled engines by priority, highest first, then
// registration order.
func (c *Coordinator) sortedEngines() []*registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*registration, 0, len(c.engines))
	for _, reg := range c.engines {
		if reg.enabled {
			cp := *reg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].order < out[j].order
	})
	return out
}

func (c *Coordinator) sortedGlobals() []GlobalRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]GlobalRule, 0, len(c.globals))
	for tag, r := range c.globals {
		if !c.disabled[tag] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Evaluate validates op against rc. The operation is applied to a shadow
// copy of rc.Snapshot first; structural failures are reported without
// running any engine. Engines then run in priority order and evaluation
// stops after the first Critical failure.
func (c *Coordinator) Evaluate(op equipment.OperationRequest, rc Context) AggregatedResult {
	c.metricsMu.Lock()
	c.evaluations++
	c.metricsMu.Unlock()

	agg := NewAggregatedResult()
	ec, structural := c.prepare(op, rc)
	if structural != nil {
		agg.Add(*structural)
		c.finish(&agg)
		return agg
	}

	for _, reg := range c.sortedEngines() {
		start := time.Now()
		results := reg.engine.Evaluate(ec)
		elapsed := time.Since(start)

		failed := false
		critical := false
		for _, r := range results {
			agg.Add(r)
			failed = failed || !r.Passed
			critical = critical || r.IsCriticalFailure()
		}
		agg.EnginesRun = append(agg.EnginesRun, reg.engine.Type())
		c.record(reg.engine.Type(), elapsed, failed)

		if critical {
			agg.StoppedEarly = true
			slog.Debug("rule evaluation stopped",
				"engine", reg.engine.Type(), "priority", reg.priority, "operation", op.OperationID)
			break
		}
	}

	if !agg.StoppedEarly {
		for _, g := range c.sortedGlobals() {
			r := g.Check(ec)
			r.Engine = EngineGlobal
			if !r.RuleTag.IsValid() {
				r.RuleTag = g.Tag
			}
			agg.Add(r)
			if r.IsCriticalFailure() {
				agg.StoppedEarly = true
				break
			}
		}
	}

	if rc.Force && !agg.AllPassed && agg.CanOverride() {
		agg.Overridden = true
	}
	c.finish(&agg)
	return agg
}

// prepare builds the evaluation context, or a structural failure when the
// operation cannot be applied to the snapshot at all.
func (c *Coordinator) prepare(op equipment.OperationRequest, rc Context) (*EvalContext, *CheckResult) {
	before := rc.Snapshot.Clone()
	after := rc.Snapshot.Clone()
	changes, err := equipment.ApplyOperation(&after, op)
	if err != nil {
		ft := equipment.FailureOf(err)
		slot := op.TargetSlot
		var eqErr *equipment.Error
		if errors.As(err, &eqErr) && eqErr.Slot != equipment.NoSlot {
			slot = eqErr.Slot
		}
		r := Fail(EngineStructure, RuleSlotType, slot, SeverityFor(ft), ft, false, err.Error())
		return nil, &r
	}
	ec := &EvalContext{
		Op:        op,
		Before:    &before,
		After:     &after,
		Changes:   changes,
		Character: rc.Character,
		Catalog:   c.catalog,
		Excluded:  c.excluded,
		Force:     rc.Force,
	}
	for _, p := range placements(op, changes, c.catalog) {
		if !ec.IsExcluded(p.Slot) {
			ec.Placed = append(ec.Placed, p)
		}
	}
	return ec, nil
}

func (c *Coordinator) record(t EngineType, elapsed time.Duration, failed bool) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	ctr, ok := c.counters[t]
	if !ok {
		ctr = &engineCounters{}
		c.counters[t] = ctr
	}
	ctr.executions++
	ctr.total += elapsed
	if failed {
		ctr.failures++
	}
}

func (c *Coordinator) finish(agg *AggregatedResult) {
	if agg.Allowed() && !agg.StoppedEarly {
		return
	}
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	if !agg.Allowed() {
		c.rejections++
	}
	if agg.StoppedEarly {
		c.earlyStops++
	}
}

// Stats returns a snapshot of the execution metrics.
func (c *Coordinator) Stats() CoordinatorStats {
	regs := c.allRegistrations()

	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	st := CoordinatorStats{
		Evaluations: c.evaluations,
		Rejections:  c.rejections,
		EarlyStops:  c.earlyStops,
	}
	for _, reg := range regs {
		m := EngineMetrics{Engine: reg.engine.Type(), Priority: reg.priority, Enabled: reg.enabled}
		if ctr, ok := c.counters[reg.engine.Type()]; ok {
			m.Executions = ctr.executions
			m.Failures = ctr.failures
			m.TotalTime = ctr.total
		}
		st.Engines = append(st.Engines, m)
	}
	return st
}

// EngineExecutions returns how many times engine t has run.
func (c *Coordinator) EngineExecutions(t EngineType) uint64 {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	if ctr, ok := c.counters[t]; ok {
		return ctr.executions
	}
	return 0
}

// ResetStatistics zeroes all counters.
func (c *Coordinator) ResetStatistics() {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.counters = make(map[EngineType]*engineCounters)
	c.evaluations, c.rejections, c.earlyStops = 0, 0, 0
}

// allRegistrations returns every registration, sorted like sortedEngines.
func (c *Coordinator) allRegistrations() []registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]registration, 0, len(c.engines))
	for _, reg := range c.engines {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].order < out[j].order
	})
	return out
}
