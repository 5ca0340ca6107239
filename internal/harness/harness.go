package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/prediction"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
)

const (
	// stepSpacing keeps scripted requests under the per-player rate limit.
	stepSpacing = 200 * time.Millisecond
	tickSpacing = time.Second
	clientIP    = "10.0.0.1"
)

// Harness runs one scenario against an in-process server with a manual
// clock, fixed ids and a fixed HMAC key.
type Harness struct {
	sc      *Scenario
	lo      *loadout.Loadout
	svc     *server.Service
	store   *store.Store
	clock   *testutil.ManualClock
	keys    *security.KeyStorage
	pred    *prediction.Predictor
	mirror  *equipment.Container
	replica *replicaSet
	logger  *slog.Logger

	serial uint64
	last   *equipment.OperationRequest
	queued map[string]Step
}

// Run executes sc and returns its result. Each run uses a fresh in-memory
// journal.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	h, err := newHarness(ctx, sc)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for i, st := range sc.Setup {
		if err := h.setup(ctx, st); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	if err := h.syncMirror(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, st := range sc.Steps {
		if err := h.step(ctx, st, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	stats := h.svc.Stats()
	result.Violations = stats.Violations
	snap, err := h.svc.Snapshot(sc.player())
	if err != nil {
		return nil, err
	}
	for i, slot := range snap.Slots {
		if slot.Item.IsValid() {
			result.Final[h.lo.Slots[i].Name] = slot.Item.ItemID
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Service:  h.svc,
		Store:    h.store,
		Loadout:  h.lo,
		Player:   sc.player(),
		Replicas: h.replica,
	}
	for _, msg := range EvaluateAssertions(result, sc.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, sc *Scenario) (*Harness, error) {
	lo, err := sc.LoadLoadout()
	if err != nil {
		return nil, fmt.Errorf("loadout: %w", err)
	}
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	keys := security.NewKeyStorage()
	if err := keys.SetKey(bytes.Repeat([]byte{0x42}, security.MinKeyLength)); err != nil {
		st.Close()
		return nil, err
	}
	clock := testutil.NewManualClock(time.Time{})

	cfg := config.Default()
	cfg.Store.Path = ""
	svc, err := server.New(cfg, lo,
		server.WithClock(clock),
		server.WithIDGenerator(testutil.NewFixedIDs()),
		server.WithKeys(keys),
		server.WithStore(st),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	h := &Harness{
		sc:      sc,
		lo:      lo,
		svc:     svc,
		store:   st,
		clock:   clock,
		keys:    keys,
		replica: newReplicaSet(lo.Configs(), keys),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		queued:  make(map[string]Step),
	}
	if err := h.addPlayers(ctx); err != nil {
		h.close()
		return nil, err
	}

	h.mirror = equipment.NewContainer(lo.Configs(), equipment.WithClock(clock))
	h.pred = prediction.NewPredictor(h.mirror,
		prediction.WithClock(clock),
		prediction.WithIDGenerator(equipment.NewSequenceGenerator("pred")),
	)
	return h, nil
}

func (h *Harness) addPlayers(ctx context.Context) error {
	player := h.sc.player()
	if err := h.svc.AddPlayer(ctx, player, h.lo); err != nil {
		return err
	}
	if h.sc.Character != nil {
		ch := h.sc.Character.Clone()
		ch.ID = player
		if err := h.svc.SetCharacter(player, ch); err != nil {
			return err
		}
	}
	for _, obs := range h.sc.Observers {
		if err := h.svc.AddPlayer(ctx, obs, h.lo); err != nil {
			return err
		}
		if err := h.svc.RegisterObserver(player, obs, replication.Viewpoint{LineOfSight: true}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) close() {
	h.svc.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Warn("closing store", "error", err)
	}
}

// syncMirror restores the client mirror to the server state.
func (h *Harness) syncMirror(ctx context.Context) error {
	snap, err := h.svc.Snapshot(h.sc.player())
	if err != nil {
		return err
	}
	h.pred.Reconcile(ctx, snap)
	return nil
}

func (h *Harness) setup(ctx context.Context, st Step) error {
	st.Force = true
	req, err := h.request(st)
	if err != nil {
		return err
	}
	res := h.svc.Submit(ctx, req, clientIP)
	if !res.Success {
		return fmt.Errorf("%s %s: %s: %s", st.Op, st.Item, res.FailureType, res.Message)
	}
	h.logger.Info("setup step completed", "op", st.Op, "item", st.Item)
	return nil
}

func (h *Harness) step(ctx context.Context, st Step, result *Result) error {
	player := h.sc.player()
	switch st.Action {
	case ActionTick:
		return h.tick(ctx, st, result)
	case ActionLock:
		if err := h.svc.LockPlayer(ctx, player); err != nil {
			return err
		}
		result.add(TraceEvent{Kind: KindLock, Step: st.Name})
		return nil
	case ActionUnlock:
		if err := h.svc.UnlockPlayer(ctx, player); err != nil {
			return err
		}
		result.add(TraceEvent{Kind: KindUnlock, Step: st.Name})
		return nil
	case ActionLevel:
		ch, err := h.svc.Character(player)
		if err != nil {
			return err
		}
		ch.Level = st.Level
		if err := h.svc.SetCharacter(player, ch); err != nil {
			return err
		}
		result.add(TraceEvent{Kind: KindLevel, Step: st.Name})
		return nil
	}
	return h.operation(ctx, st, result)
}

func (h *Harness) operation(ctx context.Context, st Step, result *Result) error {
	var req equipment.OperationRequest
	if st.Replay {
		h.clock.Advance(stepSpacing)
		req = *h.last
	} else {
		var err error
		if req, err = h.request(st); err != nil {
			return err
		}
		if st.Tamper {
			req.Signature = strings.Repeat("0", len(req.Signature))
		}
	}
	h.last = &req

	if st.Queued {
		if err := h.svc.Enqueue(req, clientIP); err != nil {
			return fmt.Errorf("step %q: %w", st.Name, err)
		}
		h.queued[req.OperationID] = st
		result.add(TraceEvent{Kind: KindOperation, Step: st.Name, Op: req.Type.String(), Queued: true})
		return nil
	}

	var predID, outcome string
	if st.Predict {
		id, err := h.pred.Create(ctx, req)
		if err != nil {
			outcome = PredictionRefused
		} else {
			predID = id
		}
	}

	res := h.svc.Submit(ctx, req, clientIP)
	snap, err := h.svc.Snapshot(h.sc.player())
	if err != nil {
		return err
	}
	if predID != "" {
		held, err := h.pred.Confirm(ctx, predID, res, &snap)
		if err != nil {
			return err
		}
		outcome = PredictionCorrected
		if held {
			outcome = PredictionHeld
		}
	} else {
		h.pred.Reconcile(ctx, snap)
	}

	h.record(st, req, res, outcome, false, result)
	return nil
}

// request builds and signs the request for st.
func (h *Harness) request(st Step) (equipment.OperationRequest, error) {
	typ, err := equipment.ParseOperationType(st.Op)
	if err != nil {
		return equipment.OperationRequest{}, err
	}
	target, err := slotIndex(h.lo, st.Slot)
	if err != nil {
		return equipment.OperationRequest{}, err
	}
	source, err := slotIndex(h.lo, st.From)
	if err != nil {
		return equipment.OperationRequest{}, err
	}

	h.serial++
	h.clock.Advance(stepSpacing)
	req := equipment.OperationRequest{
		OperationID: fmt.Sprintf("%s-%d", h.sc.Name, h.serial),
		PlayerID:    h.sc.player(),
		Type:        typ,
		SourceSlot:  source,
		TargetSlot:  target,
		Timestamp:   h.clock.Now(),
		Sequence:    h.serial,
		Nonce:       h.serial,
		Force:       st.Force,
		Simulated:   st.Simulated,
		Priority:    equipment.PriorityNormal,
	}
	if st.Priority != "" {
		if req.Priority, err = parsePriority(st.Priority); err != nil {
			return equipment.OperationRequest{}, err
		}
	}
	if st.Item != "" {
		req.Item = equipment.NewItem(equipment.NormalizeID(st.Item), fmt.Sprintf("%s-item-%d", h.sc.Name, h.serial))
		if st.Durability != nil {
			req.Item.Durability = *st.Durability
		}
	}
	if req.Signature, err = h.svc.SignRequest(req); err != nil {
		return equipment.OperationRequest{}, err
	}
	return req, nil
}

func (h *Harness) tick(ctx context.Context, st Step, result *Result) error {
	h.clock.Advance(tickSpacing)
	rep := h.svc.Tick(ctx)

	for _, q := range rep.Results {
		qs := h.queued[q.Result.OperationID]
		delete(h.queued, q.Result.OperationID)
		h.record(qs, equipment.OperationRequest{}, q.Result, "", true, result)
	}
	if err := h.syncMirror(ctx); err != nil {
		return err
	}

	ev := TraceEvent{Kind: KindTick, Step: st.Name}
	for _, ob := range rep.Outbound {
		rt, err := h.replica.apply(h.svc, ob)
		if err != nil {
			return err
		}
		ev.Replicated = append(ev.Replicated, rt)
	}
	result.add(ev)
	return nil
}

// record traces an operation result and checks the step's expectations.
func (h *Harness) record(st Step, req equipment.OperationRequest, res equipment.OperationResult, outcome string, queued bool, result *Result) {
	op := st.Op
	if req.Type != equipment.OpNone {
		op = req.Type.String()
	} else if t, err := equipment.ParseOperationType(op); err == nil {
		op = t.String()
	}
	ev := TraceEvent{
		Kind:       KindOperation,
		Step:       st.Name,
		Op:         op,
		Success:    boolPtr(res.Success),
		Slots:      res.AffectedSlots,
		Queued:     queued,
		Prediction: outcome,
	}
	if !res.Success {
		ev.Failure = res.FailureType.String()
	}
	result.add(ev)

	h.logger.Info("operation completed",
		"step", st.Name, "op", op, "success", res.Success, "failure", res.FailureType)
	for _, msg := range h.check(st, res, outcome) {
		result.AddError(fmt.Sprintf("step %q: %s", st.Name, msg))
	}
}

func (h *Harness) check(st Step, res equipment.OperationResult, outcome string) []string {
	e := st.Expect
	if e == nil {
		return nil
	}
	var errs []string
	if e.Success != nil && *e.Success != res.Success {
		errs = append(errs, fmt.Sprintf("success: expected %t, got %t (%s)", *e.Success, res.Success, res.Message))
	}
	if e.Failure != "" && !strings.EqualFold(e.Failure, res.FailureType.String()) {
		errs = append(errs, fmt.Sprintf("failure: expected %s, got %s", e.Failure, res.FailureType))
	}
	if e.CanOverride != nil && *e.CanOverride != res.CanOverride {
		errs = append(errs, fmt.Sprintf("can_override: expected %t, got %t", *e.CanOverride, res.CanOverride))
	}
	if e.Warnings != nil && *e.Warnings != len(res.Warnings) {
		errs = append(errs, fmt.Sprintf("warnings: expected %d, got %d %v", *e.Warnings, len(res.Warnings), res.Warnings))
	}
	if e.Prediction != "" && e.Prediction != outcome {
		errs = append(errs, fmt.Sprintf("prediction: expected %s, got %q", e.Prediction, outcome))
	}
	if len(e.Slots) > 0 {
		want := make([]int, 0, len(e.Slots))
		for _, ref := range e.Slots {
			idx, err := slotIndex(h.lo, ref)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			want = append(want, idx)
		}
		if fmt.Sprint(want) != fmt.Sprint(res.AffectedSlots) {
			errs = append(errs, fmt.Sprintf("slots: expected %v, got %v", want, res.AffectedSlots))
		}
	}
	return errs
}
