package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// marshalJSON converts v to JSON TEXT for storage.
// HTML escaping is disabled so item ids and tags round-trip byte-for-byte.
func marshalJSON(what string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	// Encoder adds a trailing newline.
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalSnapshot(data string) (equipment.StateSnapshot, error) {
	var snap equipment.StateSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return equipment.StateSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func unmarshalChanges(data string) ([]equipment.SlotChange, error) {
	if data == "" || data == "[]" || data == "null" {
		return nil, nil
	}
	var changes []equipment.SlotChange
	if err := json.Unmarshal([]byte(data), &changes); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return changes, nil
}

func unmarshalRequest(data string) (equipment.OperationRequest, error) {
	var req equipment.OperationRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return equipment.OperationRequest{}, fmt.Errorf("unmarshal request: %w", err)
	}
	return req, nil
}

// Timestamps are stored as UTC unix nanoseconds; zero maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
