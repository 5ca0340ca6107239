package transaction

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Defaults and limits.
const (
	DefaultMaxDepth     = 5
	MinDepth            = 1
	MaxDepth            = 10
	DefaultTimeout      = 30 * time.Second
	DefaultHistoryLimit = 100
)

// Processor runs transactions against one container.
type Processor struct {
	mu sync.Mutex

	playerID string
	target   Target
	journal  Journal
	clock    equipment.Clock
	ids      equipment.IDGenerator

	maxDepth     int
	timeout      time.Duration
	historyLimit int
	listeners    []Listener

	active  map[string]*Transaction
	stack   []string
	history []Transaction

	stats       Stats
	commitTotal time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithJournal sets the journal that receives top-level commits.
func WithJournal(j Journal) Option {
	return func(p *Processor) {
		p.journal = j
	}
}

// WithClock sets the clock used for timestamps and timeouts.
func WithClock(c equipment.Clock) Option {
	return func(p *Processor) {
		p.clock = c
	}
}

// WithIDGenerator sets the transaction and savepoint id source.
func WithIDGenerator(g equipment.IDGenerator) Option {
	return func(p *Processor) {
		p.ids = g
	}
}

// WithMaxDepth sets the nesting limit, clamped to [1, 10].
func WithMaxDepth(n int) Option {
	return func(p *Processor) {
		p.maxDepth = min(max(n, MinDepth), MaxDepth)
	}
}

// WithTimeout sets how long a transaction may stay active.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHistoryLimit sets how many finished transactions are kept.
func WithHistoryLimit(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.historyLimit = n
		}
	}
}

// WithListener registers a state change listener.
func WithListener(l Listener) Option {
	return func(p *Processor) {
		p.listeners = append(p.listeners, l)
	}
}

// NewProcessor creates a processor for playerID's container.
func NewProcessor(playerID string, target Target, opts ...Option) *Processor {
	p := &Processor{
		playerID:     playerID,
		target:       target,
		clock:        equipment.SystemClock{},
		ids:          equipment.UUIDv7Generator{},
		maxDepth:     DefaultMaxDepth,
		timeout:      DefaultTimeout,
		historyLimit: DefaultHistoryLimit,
		active:       make(map[string]*Transaction),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type transition struct {
	tx       Transaction
	from, to State
}

func (p *Processor) fire(ts []transition) {
	for _, t := range ts {
		for _, l := range p.listeners {
			l(t.tx, t.from, t.to)
		}
	}
}

// Begin starts a transaction. When another transaction is active the new
// one is nested under the current top of the stack.
func (p *Processor) Begin(desc string) (string, error) {
	p.mu.Lock()
	tx, err := p.beginLocked(desc)
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	p.fire([]transition{{tx: tx, from: StateNone, to: StateActive}})
	return tx.ID, nil
}

// BeginNested starts a transaction nested under the current one. It fails
// when no transaction is active.
func (p *Processor) BeginNested(desc string) (string, error) {
	p.mu.Lock()
	if len(p.stack) == 0 {
		p.mu.Unlock()
		return "", newError(ErrCodeNotActive, "", "no parent transaction")
	}
	tx, err := p.beginLocked(desc)
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	p.fire([]transition{{tx: tx, from: StateNone, to: StateActive}})
	return tx.ID, nil
}

func (p *Processor) beginLocked(desc string) (Transaction, error) {
	if len(p.stack) >= p.maxDepth {
		return Transaction{}, newError(ErrCodeMaxDepth, "", "nesting depth %d reached", p.maxDepth)
	}
	parent := ""
	if len(p.stack) > 0 {
		parent = p.stack[len(p.stack)-1]
	}
	snap := p.target.Snapshot()
	tx := &Transaction{
		ID:          p.ids.NewID(),
		ParentID:    parent,
		PlayerID:    p.playerID,
		Description: desc,
		State:       StateActive,
		Before:      snap,
		After:       snap.Clone(),
		StartedAt:   p.clock.Now(),
	}
	p.active[tx.ID] = tx
	p.stack = append(p.stack, tx.ID)
	p.stats.Started++

	slog.Debug("transaction started",
		"player", p.playerID, "tx", tx.ID, "parent", parent, "description", desc)
	return tx.clone(), nil
}

// Apply applies op to the container inside transaction txID. If the
// container refuses the operation the transaction is rolled back, marked
// Failed and an ErrCodeApplyFailed error wrapping the container error is
// returned.
func (p *Processor) Apply(ctx context.Context, txID string, op equipment.OperationRequest) ([]equipment.SlotChange, error) {
	p.mu.Lock()
	tx, ok := p.active[txID]
	if !ok {
		p.mu.Unlock()
		return nil, newError(ErrCodeNotFound, txID, "transaction not active")
	}
	if !tx.State.CanModify() {
		p.mu.Unlock()
		return nil, newError(ErrCodeNotActive, txID, "transaction is %s", tx.State)
	}

	changes, err := p.target.Apply(ctx, op)
	if err != nil {
		ts := p.abortLocked(txID, StateFailed, err.Error())
		p.stats.Failed++
		p.mu.Unlock()
		p.fire(ts)
		return nil, &Error{Code: ErrCodeApplyFailed, TransactionID: txID, Message: "operation " + op.OperationID, Err: err}
	}
	tx.Operations = append(tx.Operations, op)
	tx.Changes = append(tx.Changes, changes...)
	tx.After = p.target.Snapshot()
	p.mu.Unlock()
	return changes, nil
}

// Commit commits txID, which must be the top of the stack. A nested
// commit merges into the parent; a top-level commit is journaled. If the
// journal fails the transaction is rolled back and marked Failed.
func (p *Processor) Commit(ctx context.Context, txID string) error {
	p.mu.Lock()
	ts, err := p.commitLocked(ctx, txID)
	p.mu.Unlock()
	p.fire(ts)
	return err
}

func (p *Processor) commitLocked(ctx context.Context, txID string) ([]transition, error) {
	tx, ok := p.active[txID]
	if !ok {
		return nil, newError(ErrCodeNotFound, txID, "transaction not active")
	}
	if !tx.State.CanModify() {
		return nil, newError(ErrCodeNotActive, txID, "transaction is %s", tx.State)
	}
	if p.stack[len(p.stack)-1] != txID {
		return nil, newError(ErrCodeNotTopOfStack, txID, "%d nested transaction(s) still open", len(p.stack)-1-slices.Index(p.stack, txID))
	}

	tx.State = StateCommitting
	tx.After = p.target.Snapshot()
	ts := []transition{{tx: tx.clone(), from: StateActive, to: StateCommitting}}

	if tx.IsNested() {
		parent := p.active[tx.ParentID]
		parent.Operations = append(parent.Operations, tx.Operations...)
		parent.Changes = append(parent.Changes, tx.Changes...)
		parent.After = tx.After.Clone()
	} else if p.journal != nil {
		final := tx.clone()
		final.State = StateCommitted
		final.EndedAt = p.clock.Now()
		if err := p.journal.AppendTransaction(ctx, final); err != nil {
			slog.Error("journal append failed", "player", p.playerID, "tx", txID, "error", err)
			ts = append(ts, p.abortLocked(txID, StateFailed, "journal: "+err.Error())...)
			p.stats.Failed++
			return ts, &Error{Code: ErrCodeJournal, TransactionID: txID, Message: "append commit", Err: err}
		}
	}

	tx.State = StateCommitted
	tx.EndedAt = p.clock.Now()
	p.finishLocked(tx)
	p.stats.Committed++
	p.commitTotal += tx.Duration()
	ts = append(ts, transition{tx: tx.clone(), from: StateCommitting, to: StateCommitted})

	slog.Debug("transaction committed",
		"player", p.playerID, "tx", txID, "operations", len(tx.Operations), "nested", tx.IsNested())
	return ts, nil
}

// Rollback restores the Before snapshot of txID. Transactions nested above
// it are rolled back first.
func (p *Processor) Rollback(txID string) error {
	p.mu.Lock()
	tx, ok := p.active[txID]
	if !ok {
		p.mu.Unlock()
		return newError(ErrCodeNotFound, txID, "transaction not active")
	}
	if tx.State.IsFinalized() {
		p.mu.Unlock()
		return newError(ErrCodeNotActive, txID, "transaction is %s", tx.State)
	}
	ts := p.abortLocked(txID, StateRolledBack, "rollback")
	p.stats.RolledBack++
	p.mu.Unlock()
	p.fire(ts)
	return nil
}

// abortLocked unwinds the stack down to and including txID, restoring
// txID's Before snapshot, and finalizes each unwound transaction with
// state final.
func (p *Processor) abortLocked(txID string, final State, reason string) []transition {
	pos := slices.Index(p.stack, txID)
	if pos < 0 {
		return nil
	}
	tx := p.active[txID]

	var ts []transition
	for i := len(p.stack) - 1; i >= pos; i-- {
		t := p.active[p.stack[i]]
		from := t.State
		t.State = StateRollingBack
		ts = append(ts, transition{tx: t.clone(), from: from, to: StateRollingBack})
	}

	if _, err := p.target.Restore(tx.Before); err != nil {
		slog.Error("transaction restore failed", "player", p.playerID, "tx", txID, "error", err)
	}
	now := p.clock.Now()

	for i := len(p.stack) - 1; i >= pos; i-- {
		t := p.active[p.stack[i]]
		t.State = final
		if i > pos {
			t.State = StateRolledBack
		}
		t.Reason = reason
		t.EndedAt = now
		t.After = tx.Before.Clone()
		ts = append(ts, transition{tx: t.clone(), from: StateRollingBack, to: t.State})
		p.finishLocked(t)
	}

	slog.Info("transaction aborted",
		"player", p.playerID, "tx", txID, "state", final, "reason", reason)
	return ts
}

// finishLocked removes tx from the active set and the stack and records it
// in history.
func (p *Processor) finishLocked(tx *Transaction) {
	delete(p.active, tx.ID)
	if i := slices.Index(p.stack, tx.ID); i >= 0 {
		p.stack = slices.Delete(p.stack, i, i+1)
	}
	p.history = append(p.history, tx.clone())
	if over := len(p.history) - p.historyLimit; over > 0 {
		p.history = slices.Delete(p.history, 0, over)
	}
}

// CreateSavepoint records the current container state inside the top
// transaction and returns the savepoint id.
func (p *Processor) CreateSavepoint(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stack) == 0 {
		return "", newError(ErrCodeNotActive, "", "no active transaction")
	}
	tx := p.active[p.stack[len(p.stack)-1]]
	sp := Savepoint{
		ID:             p.ids.NewID(),
		Name:           name,
		TransactionID:  tx.ID,
		Snapshot:       p.target.Snapshot(),
		OperationIndex: len(tx.Operations),
		ChangeIndex:    len(tx.Changes),
		CreatedAt:      p.clock.Now(),
	}
	tx.savepoints = append(tx.savepoints, sp)
	return sp.ID, nil
}

func (p *Processor) findSavepoint(id string) (*Transaction, int) {
	for _, txID := range p.stack {
		tx := p.active[txID]
		for i, sp := range tx.savepoints {
			if sp.ID == id {
				return tx, i
			}
		}
	}
	return nil, -1
}

// RollbackToSavepoint restores the savepoint's state, drops the operations
// recorded after it and the savepoints created after it. The savepoint
// itself stays valid. Transactions nested above its owner are rolled back.
func (p *Processor) RollbackToSavepoint(id string) error {
	p.mu.Lock()
	tx, i := p.findSavepoint(id)
	if tx == nil {
		p.mu.Unlock()
		return newError(ErrCodeNotFound, "", "savepoint %s not found", id)
	}

	var ts []transition
	if pos := slices.Index(p.stack, tx.ID); pos < len(p.stack)-1 {
		ts = p.abortLocked(p.stack[pos+1], StateRolledBack, "savepoint rollback")
		p.stats.RolledBack++
	}

	sp := tx.savepoints[i]
	if _, err := p.target.Restore(sp.Snapshot); err != nil {
		p.mu.Unlock()
		p.fire(ts)
		return &Error{Code: ErrCodeApplyFailed, TransactionID: tx.ID, Message: "restore savepoint", Err: err}
	}
	tx.Operations = tx.Operations[:sp.OperationIndex]
	tx.Changes = tx.Changes[:sp.ChangeIndex]
	tx.savepoints = tx.savepoints[:i+1]
	tx.After = p.target.Snapshot()
	p.mu.Unlock()
	p.fire(ts)

	slog.Debug("rolled back to savepoint", "player", p.playerID, "tx", tx.ID, "savepoint", sp.Name)
	return nil
}

// ReleaseSavepoint forgets a savepoint without changing state.
func (p *Processor) ReleaseSavepoint(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, i := p.findSavepoint(id)
	if tx == nil {
		return newError(ErrCodeNotFound, "", "savepoint %s not found", id)
	}
	tx.savepoints = slices.Delete(tx.savepoints, i, i+1)
	return nil
}

// Current returns the top of the stack.
func (p *Processor) Current() (Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stack) == 0 {
		return Transaction{}, false
	}
	return p.active[p.stack[len(p.stack)-1]].clone(), true
}

// IsActive reports whether any transaction is open.
func (p *Processor) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack) > 0
}

// Depth returns the number of open transactions.
func (p *Processor) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}

// Get returns an active or historical transaction.
func (p *Processor) Get(txID string) (Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tx, ok := p.active[txID]; ok {
		return tx.clone(), true
	}
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].ID == txID {
			return p.history[i].clone(), true
		}
	}
	return Transaction{}, false
}

// History returns up to limit finished transactions, most recent first.
// limit <= 0 returns all kept entries.
func (p *Processor) History(limit int) []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Transaction, 0, n)
	for i := len(p.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, p.history[i].clone())
	}
	return out
}

// CleanupExpired rolls back every transaction that has been active longer
// than the timeout and marks it Failed. Returns the number of transactions
// finalized.
func (p *Processor) CleanupExpired() int {
	p.mu.Lock()
	now := p.clock.Now()
	expired := ""
	for _, id := range p.stack {
		if now.Sub(p.active[id].StartedAt) > p.timeout {
			expired = id
			break
		}
	}
	if expired == "" {
		p.mu.Unlock()
		return 0
	}
	depth := len(p.stack) - slices.Index(p.stack, expired)
	ts := p.abortLocked(expired, StateFailed, string(ErrCodeTimedOut))
	p.stats.TimedOut++
	p.stats.Failed++
	p.mu.Unlock()
	p.fire(ts)

	slog.Warn("transaction timed out", "player", p.playerID, "tx", expired, "unwound", depth)
	return depth
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Active = len(p.stack)
	if st.Committed > 0 {
		st.AvgCommit = p.commitTotal / time.Duration(st.Committed)
	}
	return st
}
