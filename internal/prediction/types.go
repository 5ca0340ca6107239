package prediction

import (
	"context"
	"errors"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Defaults.
const (
	DefaultMaxActive     = 10
	DefaultTimeout       = 2 * time.Second
	DefaultMinConfidence = 0.3
	maxLatencySamples    = 20
)

// Correction reasons.
const (
	ReasonMismatch  = "server result mismatch"
	ReasonTimeout   = "timeout"
	ReasonReapply   = "reapply failed"
	ReasonRequested = "requested"
)

var (
	ErrDisabled       = errors.New("prediction disabled")
	ErrNotPredictable = errors.New("operation not eligible for prediction")
	ErrLimitReached   = errors.New("too many active predictions")
	ErrNotFound       = errors.New("prediction not found")
)

// Executor is the local container predictions are applied to.
// *equipment.Container implements it.
type Executor interface {
	Snapshot() equipment.StateSnapshot
	Apply(ctx context.Context, op equipment.OperationRequest) ([]equipment.SlotChange, error)
	Restore(snap equipment.StateSnapshot) ([]int, error)
}

// Prediction is one optimistic operation.
type Prediction struct {
	ID        string                     `json:"id"`
	Operation equipment.OperationRequest `json:"operation"`
	Before    equipment.StateSnapshot    `json:"before"`
	Predicted equipment.StateSnapshot    `json:"predicted"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Age returns the time since the prediction was created.
func (p Prediction) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// Correction reports a prediction the client had to undo.
type Correction struct {
	PredictionID string                  `json:"prediction_id"`
	OperationID  string                  `json:"operation_id"`
	Operation    equipment.OperationType `json:"operation"`
	Reason       string                  `json:"reason"`
	Restored     string                  `json:"restored_fingerprint"`
	At           time.Time               `json:"at"`
}

// Stats are cumulative prediction counters.
type Stats struct {
	Created         int64         `json:"created"`
	Confirmed       int64         `json:"confirmed"`
	RolledBack      int64         `json:"rolled_back"`
	Expired         int64         `json:"expired"`
	Reconciliations int64         `json:"reconciliations"`
	Active          int           `json:"active"`
	Accuracy        float64       `json:"accuracy"`
	AverageLatency  time.Duration `json:"average_latency"`
	Confidence      float64       `json:"confidence"`
}
