package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
)

// Assertion checks the state at the end of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Slot  string `yaml:"slot,omitempty"`
	Item  string `yaml:"item,omitempty"`
	Count *int   `yaml:"count,omitempty"`
}

// Assertion types. slot_item and slot_empty inspect one slot, compliant
// re-validates the whole loadout, violations and journal compare counts,
// replay rebuilds the player from the journal.
const (
	AssertSlotItem   = "slot_item"
	AssertSlotEmpty  = "slot_empty"
	AssertCompliant  = "compliant"
	AssertViolations = "violations"
	AssertJournal    = "journal"
	AssertReplay     = "replay"
	AssertInSync     = "replicas_in_sync"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %s failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertSlotItem:
		if a.Slot == "" || a.Item == "" {
			return fmt.Errorf("slot and item are required for %s", a.Type)
		}
	case AssertSlotEmpty:
		if a.Slot == "" {
			return fmt.Errorf("slot is required for %s", a.Type)
		}
	case AssertViolations, AssertJournal:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for %s", a.Type)
		}
	case AssertCompliant, AssertReplay, AssertInSync:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// AssertionContext is the state assertions run against.
type AssertionContext struct {
	Ctx      context.Context
	Service  *server.Service
	Store    *store.Store
	Loadout  *loadout.Loadout
	Player   string
	Replicas *replicaSet
}

// EvaluateAssertions runs every assertion and returns the failures.
func EvaluateAssertions(res *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(res, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(res *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertSlotItem, AssertSlotEmpty:
		return assertSlot(a, actx)
	case AssertCompliant:
		return assertCompliant(actx)
	case AssertViolations:
		if res.Violations != uint64(*a.Count) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(*a.Count), Actual: fmt.Sprint(res.Violations)}
		}
	case AssertJournal:
		txs, err := actx.Store.ReadTransactions(actx.Ctx, actx.Player, 0)
		if err != nil {
			return fmt.Errorf("assertion %s: %w", a.Type, err)
		}
		if len(txs) != *a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d transactions", *a.Count), Actual: fmt.Sprint(len(txs))}
		}
	case AssertReplay:
		rr, err := actx.Store.ReplayPlayer(actx.Ctx, actx.Player)
		if err != nil {
			return fmt.Errorf("assertion %s: %w", a.Type, err)
		}
		if !rr.Verified() {
			return &AssertionError{Type: a.Type, Expected: rr.Expected, Actual: rr.Fingerprint}
		}
	case AssertInSync:
		if stale := actx.Replicas.outOfSync(actx.Service); len(stale) > 0 {
			return &AssertionError{Type: a.Type, Expected: "all replicas in sync", Actual: "stale " + strings.Join(stale, ", ")}
		}
	}
	return nil
}

func assertSlot(a Assertion, actx *AssertionContext) error {
	idx, err := slotIndex(actx.Loadout, a.Slot)
	if err != nil {
		return fmt.Errorf("assertion %s: %w", a.Type, err)
	}
	snap, err := actx.Service.Snapshot(actx.Player)
	if err != nil {
		return fmt.Errorf("assertion %s: %w", a.Type, err)
	}
	item := snap.Slots[idx].Item
	switch {
	case a.Type == AssertSlotEmpty && item.IsValid():
		return &AssertionError{Type: a.Type, Expected: a.Slot + " empty", Actual: item.ItemID}
	case a.Type == AssertSlotItem && item.ItemID != equipment.NormalizeID(a.Item):
		return &AssertionError{Type: a.Type, Expected: a.Item, Actual: describe(item)}
	}
	return nil
}

func assertCompliant(actx *AssertionContext) error {
	report, err := actx.Service.Report(actx.Player)
	if err != nil {
		return fmt.Errorf("assertion %s: %w", AssertCompliant, err)
	}
	var bad []string
	for _, s := range report.Slots {
		if !s.Skipped && !s.Compliant {
			bad = append(bad, fmt.Sprintf("%d:%s", s.Slot, s.ItemID))
		}
	}
	if len(bad) > 0 {
		return &AssertionError{Type: AssertCompliant, Expected: "no issues", Actual: strings.Join(bad, ", ")}
	}
	return nil
}

func describe(item equipment.ItemInstance) string {
	if !item.IsValid() {
		return "empty"
	}
	return item.ItemID
}
