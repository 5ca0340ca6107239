package prediction

import (
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

const (
	successAlpha      = 0.1
	successStep       = 0.05
	failureFactor     = 0.8
	recoveryPerSecond = 0.1
	recoveryDelay     = time.Second
)

// Confidence tracks how often recent predictions held.
// Not safe for concurrent use; Predictor guards it.
type Confidence struct {
	Level       float64
	SuccessRate float64
	lastFailure time.Time
	lastUpdate  time.Time
}

// NewConfidence starts at full confidence.
func NewConfidence() Confidence {
	return Confidence{Level: 1, SuccessRate: 1}
}

// Record folds one outcome into the success rate. Failures cut the level
// immediately; successes raise it up to the success rate.
func (c *Confidence) Record(success bool, now time.Time) {
	outcome := 0.0
	if success {
		outcome = 1
	}
	c.SuccessRate = c.SuccessRate*(1-successAlpha) + outcome*successAlpha
	if success {
		c.Level = min(c.SuccessRate, c.Level+successStep)
	} else {
		c.Level = min(c.SuccessRate, c.Level*failureFactor)
		c.lastFailure = now
	}
	c.lastUpdate = now
}

// Recover raises the level toward the success rate once a second has
// passed without failures.
func (c *Confidence) Recover(now time.Time) {
	if c.lastUpdate.IsZero() {
		c.lastUpdate = now
		return
	}
	elapsed := now.Sub(c.lastUpdate)
	c.lastUpdate = now
	if elapsed <= 0 || now.Sub(c.lastFailure) <= recoveryDelay {
		return
	}
	c.Level = min(c.SuccessRate, c.Level+recoveryPerSecond*elapsed.Seconds())
}

// Adjusted returns the confidence for an operation type. Quick switches are
// cheap to undo and never drop below 0.8; drops are hard to undo.
func (c Confidence) Adjusted(op equipment.OperationType) float64 {
	switch op {
	case equipment.OpQuickSwitch:
		return max(0.8, c.Level)
	case equipment.OpDrop:
		return c.Level * 0.7
	}
	return c.Level
}

// BasePriority is the prediction priority of an operation type before
// confidence scaling.
func BasePriority(op equipment.OperationType) float64 {
	switch op {
	case equipment.OpQuickSwitch:
		return 1.0
	case equipment.OpEquip:
		return 0.9
	case equipment.OpUnequip:
		return 0.8
	case equipment.OpSwap:
		return 0.7
	case equipment.OpMove:
		return 0.6
	case equipment.OpDrop:
		return 0.4
	}
	return 0.5
}
