package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/eventbus"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
)

// Violation is the payload of a security violation event.
type Violation struct {
	OperationID string          `json:"operation_id"`
	Result      security.Result `json:"result"`
	ClientIP    string          `json:"client_ip,omitempty"`
}

// Submit validates and applies req and returns its result. The request's
// nonce is confirmed when the operation succeeds and released otherwise,
// so a refused request may be retried with the same nonce.
func (s *Service) Submit(ctx context.Context, req equipment.OperationRequest, clientIP string) equipment.OperationResult {
	start := time.Now()
	res := s.submit(ctx, req, clientIP)
	res.ExecutionTime = time.Since(start)

	if res.Success {
		s.succeeded.Add(1)
		s.publish(eventbus.TagOperationCompleted, req.PlayerID, "server", res)
	} else {
		s.rejected.Add(1)
		s.publish(eventbus.TagOperationRejected, req.PlayerID, "server", res)
	}
	return res
}

func (s *Service) submit(ctx context.Context, req equipment.OperationRequest, clientIP string) equipment.OperationResult {
	s.submitted.Add(1)

	p, ok := s.player(req.PlayerID)
	if !ok {
		return equipment.Failed(req, equipment.FailureInvalidRequest, fmt.Sprintf("unknown player %q", req.PlayerID))
	}

	if r := s.security.ValidateRequest(req, clientIP); !r.OK() {
		s.violated.Add(1)
		slog.Warn("request refused by security",
			"event", "security_violation", "player", req.PlayerID, "operation", req.OperationID, "result", r)
		s.publish(eventbus.TagSecurityViolation, req.PlayerID, "security",
			Violation{OperationID: req.OperationID, Result: r, ClientIP: clientIP})
		return equipment.Failed(req, equipment.FailureSecurityViolation, r.String())
	}

	res, changes := s.execute(ctx, p, req)
	if res.Success {
		s.security.ConfirmNonce(req.Nonce)
	} else {
		s.security.RejectNonce(req.Nonce)
	}
	for _, c := range changes {
		s.publish(eventbus.TagSlotChanged, req.PlayerID, "server", c)
	}
	return res
}

// execute runs the rules pipeline and applies req in its own transaction.
// Slot and operation events are published by the caller after the player
// lock is released so Immediate handlers may submit again.
func (s *Service) execute(ctx context.Context, p *player, req equipment.OperationRequest) (equipment.OperationResult, []equipment.SlotChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.container.Snapshot()
	agg := s.rules.Evaluate(req, rules.Context{
		Snapshot:  before,
		Character: p.character,
		Force:     req.Force,
	})
	if !agg.Allowed() {
		res := equipment.Failed(req, agg.FailureType(), agg.Summary())
		res.CanOverride = agg.CanOverride()
		res.Confidence = agg.Confidence
		res.Warnings = agg.WarningMessages()
		res.Version = before.Version
		slog.Debug("operation refused by rules",
			"player", p.id, "operation", req.OperationID, "failure", res.FailureType, "summary", res.Message)
		return res, nil
	}

	if req.Simulated {
		return equipment.OperationResult{
			Success:     true,
			OperationID: req.OperationID,
			Message:     "simulated",
			Warnings:    agg.WarningMessages(),
			Confidence:  agg.Confidence,
			Version:     before.Version,
		}, nil
	}

	txID, err := p.tx.Begin(req.Type.String())
	if err != nil {
		return equipment.Failed(req, equipment.FailureTransactionActive, err.Error()), nil
	}
	changes, err := p.tx.Apply(ctx, txID, req)
	if err != nil {
		// Apply rolled the transaction back.
		res := equipment.Failed(req, equipment.FailureOf(err), err.Error())
		res.TransactionID = txID
		return res, nil
	}
	if err := p.tx.Commit(ctx, txID); err != nil {
		res := equipment.Failed(req, equipment.FailureSystemError, err.Error())
		res.TransactionID = txID
		return res, nil
	}

	after := p.container.Snapshot()
	slots := affectedSlots(changes)
	p.repl.OnEquipmentChanged(after, slots)

	items := make([]equipment.ItemInstance, 0, len(slots))
	for _, idx := range slots {
		items = append(items, after.Slots[idx].Item.Clone())
	}

	slog.Debug("operation applied",
		"player", p.id, "operation", req.OperationID, "type", req.Type, "tx", txID,
		"slots", slots, "version", after.Version)
	return equipment.OperationResult{
		Success:       true,
		OperationID:   req.OperationID,
		AffectedSlots: slots,
		AffectedItems: items,
		TransactionID: txID,
		Warnings:      agg.WarningMessages(),
		Confidence:    agg.Confidence,
		Version:       after.Version,
	}, changes
}

// affectedSlots returns the distinct slots of changes in first-touch order.
func affectedSlots(changes []equipment.SlotChange) []int {
	out := make([]int, 0, len(changes))
	seen := make(map[int]bool, len(changes))
	for _, idx := range equipment.ChangedSlots(changes) {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// Enqueue defers req to the next tick. It fails with ErrServiceClosed once
// the service is closed and with ErrQueueFull when the queue or the
// player's share of it is at capacity.
func (s *Service) Enqueue(req equipment.OperationRequest, clientIP string) error {
	if err := s.queue.Push(req, clientIP); err != nil {
		if errors.Is(err, ErrQueueFull) {
			s.rejected.Add(1)
			slog.Warn("queued request refused", "player", req.PlayerID, "operation", req.OperationID, "error", err)
		}
		return err
	}
	return nil
}

// Pending returns the number of queued requests.
func (s *Service) Pending() int {
	return s.queue.Len()
}
