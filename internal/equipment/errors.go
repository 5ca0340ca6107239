package equipment

import (
	"errors"
	"fmt"
	"strings"
)

// FailureType categorizes why an operation was refused.
type FailureType int

const (
	FailureNone FailureType = iota
	FailureInvalidSlot
	FailureSlotOccupied
	FailureIncompatibleType
	FailureRequirementsNotMet
	FailureWeightLimit
	FailureConflictingItem
	FailureLevelRequirement
	FailureUniqueConstraint
	FailureCooldownActive
	FailureTransactionActive
	FailureNetworkError
	FailureSystemError
	FailureItemBroken
	FailureInvalidRequest
	FailureSecurityViolation
)

var failureNames = map[FailureType]string{
	FailureNone:               "None",
	FailureInvalidSlot:        "InvalidSlot",
	FailureSlotOccupied:       "SlotOccupied",
	FailureIncompatibleType:   "IncompatibleType",
	FailureRequirementsNotMet: "RequirementsNotMet",
	FailureWeightLimit:        "WeightLimit",
	FailureConflictingItem:    "ConflictingItem",
	FailureLevelRequirement:   "LevelRequirement",
	FailureUniqueConstraint:   "UniqueConstraint",
	FailureCooldownActive:     "CooldownActive",
	FailureTransactionActive:  "TransactionActive",
	FailureNetworkError:       "NetworkError",
	FailureSystemError:        "SystemError",
	FailureItemBroken:         "ItemBroken",
	FailureInvalidRequest:     "InvalidRequest",
	FailureSecurityViolation:  "SecurityViolation",
}

func (f FailureType) String() string {
	if s, ok := failureNames[f]; ok {
		return s
	}
	return fmt.Sprintf("FailureType(%d)", int(f))
}

// MarshalText implements encoding.TextMarshaler.
func (f FailureType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FailureType) UnmarshalText(b []byte) error {
	for ft, name := range failureNames {
		if strings.EqualFold(name, string(b)) {
			*f = ft
			return nil
		}
	}
	return fmt.Errorf("unknown failure type %q", string(b))
}

// Error is returned by container mutations.
type Error struct {
	// Code identifies the failure category.
	Code FailureType

	// Message is a human-readable description.
	Message string

	// Slot is the offending slot index, or NoSlot.
	Slot int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Slot != NoSlot {
		return fmt.Sprintf("%s: %s (slot=%d)", e.Code, e.Message, e.Slot)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error for the given slot.
func NewError(code FailureType, slot int, format string, args ...any) *Error {
	return &Error{Code: code, Slot: slot, Message: fmt.Sprintf(format, args...)}
}

// FailureOf extracts the failure category from err.
// Returns FailureSystemError for errors that are not *Error and
// FailureNone for nil.
func FailureOf(err error) FailureType {
	if err == nil {
		return FailureNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return FailureSystemError
}

// IsSlotError returns true if err reports an invalid or occupied slot.
func IsSlotError(err error) bool {
	switch FailureOf(err) {
	case FailureInvalidSlot, FailureSlotOccupied:
		return true
	}
	return false
}
