package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Predictor manages the active predictions of one local container.
//
// Thread-safety: safe for concurrent use. Correction handlers run after the
// internal lock is released.
type Predictor struct {
	exec      Executor
	clock     equipment.Clock
	ids       equipment.IDGenerator
	onCorrect func(Correction)

	enabled       bool
	adaptive      bool
	maxActive     int
	timeout       time.Duration
	minConfidence float64

	mu          sync.Mutex
	active      []*Prediction
	byOperation map[string]string
	confidence  Confidence
	latencies   []time.Duration
	stats       Stats
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithClock sets the clock used for ages and timeouts.
func WithClock(c equipment.Clock) Option {
	return func(p *Predictor) {
		p.clock = c
	}
}

// WithIDGenerator sets the prediction id source.
func WithIDGenerator(g equipment.IDGenerator) Option {
	return func(p *Predictor) {
		p.ids = g
	}
}

// WithMaxActive caps concurrent predictions.
func WithMaxActive(n int) Option {
	return func(p *Predictor) {
		p.maxActive = max(1, n)
	}
}

// WithTimeout sets how long a prediction may wait for confirmation.
func WithTimeout(d time.Duration) Option {
	return func(p *Predictor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithAdaptiveConfidence enables or disables the minimum confidence gate.
func WithAdaptiveConfidence(on bool, minConfidence float64) Option {
	return func(p *Predictor) {
		p.adaptive = on
		p.minConfidence = minConfidence
	}
}

// WithCorrectionHandler registers a callback for undone predictions.
func WithCorrectionHandler(f func(Correction)) Option {
	return func(p *Predictor) {
		p.onCorrect = f
	}
}

// NewPredictor creates an enabled predictor over exec.
func NewPredictor(exec Executor, opts ...Option) *Predictor {
	p := &Predictor{
		exec:          exec,
		clock:         equipment.SystemClock{},
		ids:           equipment.UUIDv7Generator{},
		enabled:       true,
		adaptive:      true,
		maxActive:     DefaultMaxActive,
		timeout:       DefaultTimeout,
		minConfidence: DefaultMinConfidence,
		byOperation:   make(map[string]string),
		confidence:    NewConfidence(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEnabled turns prediction on or off. Disabling rolls back every active
// prediction.
func (p *Predictor) SetEnabled(ctx context.Context, on bool) {
	p.mu.Lock()
	p.enabled = on
	var corrections []Correction
	if !on && len(p.active) > 0 {
		all := p.active
		for _, pr := range all {
			p.forgetOperation(pr)
		}
		p.active, _ = p.replayLocked(ctx, all[0].Before, nil, ReasonRequested)
		for _, pr := range all {
			corrections = append(corrections, p.correction(pr, ReasonRequested))
		}
		p.stats.RolledBack += int64(len(all))
	}
	p.mu.Unlock()
	p.emit(corrections)
}

// ShouldPredict reports whether op is worth predicting at the current
// confidence.
func (p *Predictor) ShouldPredict(op equipment.OperationRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldPredictLocked(op)
}

func (p *Predictor) shouldPredictLocked(op equipment.OperationRequest) bool {
	if p.adaptive && p.confidence.Adjusted(op.Type) < p.minConfidence {
		return false
	}
	return min(1, BasePriority(op.Type)*p.confidence.Level) >= 0.5
}

// Create applies op locally and records the prediction.
func (p *Predictor) Create(ctx context.Context, op equipment.OperationRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return "", ErrDisabled
	}
	if !p.shouldPredictLocked(op) {
		slog.Debug("prediction denied", "op", op.Type, "confidence", p.confidence.Level)
		return "", ErrNotPredictable
	}
	if len(p.active) >= p.maxActive {
		slog.Warn("prediction limit reached", "max", p.maxActive)
		return "", ErrLimitReached
	}

	before := p.exec.Snapshot()
	if _, err := p.exec.Apply(ctx, op); err != nil {
		return "", fmt.Errorf("predict %s: %w", op.Type, err)
	}
	pr := &Prediction{
		ID:        p.ids.NewID(),
		Operation: op,
		Before:    before,
		Predicted: p.exec.Snapshot(),
		CreatedAt: p.clock.Now(),
	}
	p.active = append(p.active, pr)
	if op.OperationID != "" {
		p.byOperation[op.OperationID] = pr.ID
	}
	p.stats.Created++
	slog.Debug("prediction created", "prediction", pr.ID, "op", op.Type, "active", len(p.active))
	return pr.ID, nil
}

// Apply restores the predicted state of id onto the local container.
func (p *Predictor) Apply(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.findLocked(id)
	if pr == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err := p.exec.Restore(pr.Predicted)
	return err
}

// Confirm settles id against the server's result. A failed result, or a
// server snapshot whose fingerprint differs from the predicted state, rolls
// the prediction back. It reports whether the prediction held.
func (p *Predictor) Confirm(ctx context.Context, id string, result equipment.OperationResult, server *equipment.StateSnapshot) (bool, error) {
	p.mu.Lock()
	pr := p.findLocked(id)
	if pr == nil {
		p.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := p.clock.Now()
	held := result.Success
	if held && server != nil {
		held = server.Fingerprint() == pr.Predicted.Fingerprint()
	}

	var corrections []Correction
	if held {
		p.removeLocked(pr.ID)
		p.confidence.Record(true, now)
		p.stats.Confirmed++
		p.recordLatency(now.Sub(pr.CreatedAt))
		slog.Debug("prediction confirmed", "prediction", id, "latency", now.Sub(pr.CreatedAt))
	} else {
		slog.Warn("prediction mismatch", "prediction", id, "op", pr.Operation.Type, "server_success", result.Success)
		corrections = p.rollbackLocked(ctx, pr, ReasonMismatch)
		if server != nil {
			corrections = append(corrections, p.reconcileLocked(ctx, *server)...)
		}
	}
	p.mu.Unlock()
	p.emit(corrections)
	return held, nil
}

// ConfirmOperation confirms the prediction created for result.OperationID.
// Results for operations that were not predicted are ignored.
func (p *Predictor) ConfirmOperation(ctx context.Context, result equipment.OperationResult, server *equipment.StateSnapshot) (bool, error) {
	p.mu.Lock()
	id, ok := p.byOperation[result.OperationID]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return p.Confirm(ctx, id, result, server)
}

// Rollback undoes id and reapplies later predictions.
func (p *Predictor) Rollback(ctx context.Context, id, reason string) error {
	p.mu.Lock()
	pr := p.findLocked(id)
	if pr == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if reason == "" {
		reason = ReasonRequested
	}
	corrections := p.rollbackLocked(ctx, pr, reason)
	p.mu.Unlock()
	p.emit(corrections)
	return nil
}

// Reconcile adopts server as the new base state. Predictions the server
// already reflects are dropped as confirmed; the rest are reapplied on top
// in creation order. It returns the number reapplied.
func (p *Predictor) Reconcile(ctx context.Context, server equipment.StateSnapshot) int {
	p.mu.Lock()
	corrections := p.reconcileLocked(ctx, server)
	n := len(p.active)
	p.mu.Unlock()
	p.emit(corrections)
	return n
}

func (p *Predictor) reconcileLocked(ctx context.Context, server equipment.StateSnapshot) []Correction {
	p.stats.Reconciliations++
	fp := server.Fingerprint()
	reflected := -1
	for i, pr := range p.active {
		if pr.Predicted.Fingerprint() == fp {
			reflected = i
		}
	}
	now := p.clock.Now()
	for _, pr := range p.active[:reflected+1] {
		p.confidence.Record(true, now)
		p.stats.Confirmed++
		p.recordLatency(now.Sub(pr.CreatedAt))
		p.forgetOperation(pr)
	}
	keep := slices.Clone(p.active[reflected+1:])
	kept, corrections := p.replayLocked(ctx, server, keep, ReasonReapply)
	p.active = kept
	slog.Debug("reconciled with server", "reflected", reflected+1, "reapplied", len(kept))
	return corrections
}

// ClearExpired rolls back predictions older than maxAge and returns how
// many expired.
func (p *Predictor) ClearExpired(ctx context.Context, maxAge time.Duration) int {
	p.mu.Lock()
	now := p.clock.Now()
	first := -1
	var keep []*Prediction
	var expired []*Prediction
	for i, pr := range p.active {
		if pr.Age(now) > maxAge {
			if first < 0 {
				first = i
			}
			expired = append(expired, pr)
		} else if first >= 0 {
			keep = append(keep, pr)
		}
	}
	if first < 0 {
		p.mu.Unlock()
		return 0
	}

	base := p.active[first].Before
	prefix := slices.Clone(p.active[:first])
	for _, pr := range expired {
		p.forgetOperation(pr)
		p.confidence.Record(false, now)
		p.stats.Expired++
		p.stats.RolledBack++
		slog.Warn("prediction timed out", "prediction", pr.ID, "op", pr.Operation.Type, "age", pr.Age(now))
	}
	kept, replayed := p.replayLocked(ctx, base, keep, ReasonReapply)
	p.active = append(prefix, kept...)

	corrections := make([]Correction, 0, len(expired)+len(replayed))
	for _, pr := range expired {
		corrections = append(corrections, p.correction(pr, ReasonTimeout))
	}
	corrections = append(corrections, replayed...)
	p.mu.Unlock()
	p.emit(corrections)
	return len(expired)
}

// Sweep recovers confidence and expires predictions older than the
// configured timeout.
func (p *Predictor) Sweep(ctx context.Context) int {
	p.mu.Lock()
	p.confidence.Recover(p.clock.Now())
	p.mu.Unlock()
	return p.ClearExpired(ctx, p.timeout)
}

// rollbackLocked rewinds to pr.Before and reapplies the predictions after
// it.
func (p *Predictor) rollbackLocked(ctx context.Context, pr *Prediction, reason string) []Correction {
	idx := slices.Index(p.active, pr)
	prefix := slices.Clone(p.active[:idx])
	later := slices.Clone(p.active[idx+1:])

	p.forgetOperation(pr)
	p.confidence.Record(false, p.clock.Now())
	p.stats.RolledBack++

	kept, replayed := p.replayLocked(ctx, pr.Before, later, ReasonReapply)
	p.active = append(prefix, kept...)
	return append([]Correction{p.correction(pr, reason)}, replayed...)
}

// replayLocked restores base and reapplies keep in order. It returns the
// predictions that reapplied and a correction for each that did not.
func (p *Predictor) replayLocked(ctx context.Context, base equipment.StateSnapshot, keep []*Prediction, reason string) ([]*Prediction, []Correction) {
	if _, err := p.exec.Restore(base); err != nil {
		slog.Error("prediction restore failed", "error", err)
	}

	kept := make([]*Prediction, 0, len(keep))
	var corrections []Correction
	for _, pr := range keep {
		before := p.exec.Snapshot()
		if _, err := p.exec.Apply(ctx, pr.Operation); err != nil {
			slog.Warn("prediction reapply failed", "prediction", pr.ID, "op", pr.Operation.Type, "error", err)
			p.stats.RolledBack++
			p.forgetOperation(pr)
			corrections = append(corrections, p.correction(pr, reason))
			continue
		}
		pr.Before = before
		pr.Predicted = p.exec.Snapshot()
		kept = append(kept, pr)
	}
	return kept, corrections
}

func (p *Predictor) removeLocked(id string) {
	for i, pr := range p.active {
		if pr.ID == id {
			p.forgetOperation(pr)
			p.active = slices.Delete(p.active, i, i+1)
			break
		}
	}
	p.stats.Active = len(p.active)
}

func (p *Predictor) forgetOperation(pr *Prediction) {
	if pr.Operation.OperationID != "" {
		delete(p.byOperation, pr.Operation.OperationID)
	}
}

func (p *Predictor) findLocked(id string) *Prediction {
	for _, pr := range p.active {
		if pr.ID == id {
			return pr
		}
	}
	return nil
}

func (p *Predictor) correction(pr *Prediction, reason string) Correction {
	return Correction{
		PredictionID: pr.ID,
		OperationID:  pr.Operation.OperationID,
		Operation:    pr.Operation.Type,
		Reason:       reason,
		Restored:     p.exec.Snapshot().Fingerprint(),
		At:           p.clock.Now(),
	}
}

func (p *Predictor) recordLatency(d time.Duration) {
	p.latencies = append(p.latencies, d)
	if len(p.latencies) > maxLatencySamples {
		p.latencies = p.latencies[1:]
	}
}

func (p *Predictor) averageLatencyLocked() time.Duration {
	if len(p.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.latencies {
		sum += d
	}
	return sum / time.Duration(len(p.latencies))
}

func (p *Predictor) emit(corrections []Correction) {
	if p.onCorrect == nil {
		return
	}
	for _, c := range corrections {
		p.onCorrect(c)
	}
}

// PredictionConfidence scores how likely id is to hold, penalizing age and
// high average latency.
func (p *Predictor) PredictionConfidence(id string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.findLocked(id)
	if pr == nil {
		return 0
	}
	c := p.confidence.Level
	age := min(1, max(0, float64(pr.Age(p.clock.Now()))/float64(p.timeout)))
	c *= 1 - age*0.5
	if lat := p.averageLatencyLocked(); lat > 100*time.Millisecond {
		penalty := min(1, float64(lat)/float64(500*time.Millisecond))
		c *= 1 - penalty*0.3
	}
	return min(1, max(0, c))
}

// Active returns copies of the active predictions in creation order.
func (p *Predictor) Active() []Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Prediction, len(p.active))
	for i, pr := range p.active {
		out[i] = *pr
	}
	return out
}

// IsActive reports whether id is awaiting confirmation.
func (p *Predictor) IsActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findLocked(id) != nil
}

// Confidence returns the current confidence level.
func (p *Predictor) Confidence() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confidence.Level
}

// Stats returns a copy of the counters.
func (p *Predictor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Active = len(p.active)
	s.AverageLatency = p.averageLatencyLocked()
	s.Confidence = p.confidence.Level
	if s.Created > 0 {
		s.Accuracy = float64(s.Confirmed) / float64(s.Created)
	}
	return s
}
