package rules

import (
	"fmt"
	"strings"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Severity grades a check result.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EngineType identifies a rule engine.
type EngineType int

const (
	EngineCompatibility EngineType = iota
	EngineRequirement
	EngineWeight
	EngineConflict
	EngineGlobal
	EngineStructure
)

func (t EngineType) String() string {
	switch t {
	case EngineCompatibility:
		return "Compatibility"
	case EngineRequirement:
		return "Requirement"
	case EngineWeight:
		return "Weight"
	case EngineConflict:
		return "Conflict"
	case EngineGlobal:
		return "Global"
	case EngineStructure:
		return "Structure"
	}
	return fmt.Sprintf("EngineType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t EngineType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// CheckResult is the outcome of one rule.
type CheckResult struct {
	Passed      bool                  `json:"passed"`
	Severity    Severity              `json:"severity"`
	Engine      EngineType            `json:"engine"`
	RuleTag     equipment.Tag         `json:"rule_tag"`
	FailureType equipment.FailureType `json:"failure_type"`
	Message     string                `json:"message"`
	Confidence  float64               `json:"confidence"`
	CanOverride bool                  `json:"can_override"`
	Slot        int                   `json:"slot"`
	Context     map[string]string     `json:"context,omitempty"`
}

// Pass builds a passing Info result with full confidence.
func Pass(engine EngineType, tag equipment.Tag, slot int, msg string) CheckResult {
	return CheckResult{
		Passed:     true,
		Severity:   SeverityInfo,
		Engine:     engine,
		RuleTag:    tag,
		Message:    msg,
		Confidence: 1.0,
		Slot:       slot,
	}
}

// Warn builds a passing Warning result.
func Warn(engine EngineType, tag equipment.Tag, slot int, confidence float64, msg string) CheckResult {
	return CheckResult{
		Passed:      true,
		Severity:    SeverityWarning,
		Engine:      engine,
		RuleTag:     tag,
		Message:     msg,
		Confidence:  confidence,
		CanOverride: true,
		Slot:        slot,
	}
}

// Fail builds a failing result.
func Fail(engine EngineType, tag equipment.Tag, slot int, sev Severity, ft equipment.FailureType, canOverride bool, msg string) CheckResult {
	return CheckResult{
		Severity:    sev,
		Engine:      engine,
		RuleTag:     tag,
		FailureType: ft,
		Message:     msg,
		Confidence:  0,
		CanOverride: canOverride,
		Slot:        slot,
	}
}

// With returns a copy of r with a context entry added.
func (r CheckResult) With(key, value string) CheckResult {
	ctx := make(map[string]string, len(r.Context)+1)
	for k, v := range r.Context {
		ctx[k] = v
	}
	ctx[key] = value
	r.Context = ctx
	return r
}

// IsCriticalFailure reports whether r failed with Critical severity.
func (r CheckResult) IsCriticalFailure() bool {
	return !r.Passed && r.Severity == SeverityCritical
}

// Blocks reports whether r prevents the operation.
func (r CheckResult) Blocks() bool {
	return !r.Passed && r.Severity >= SeverityError
}

// AggregatedResult combines the results of a pipeline run.
type AggregatedResult struct {
	// AllPassed is true when every result passed.
	AllPassed bool `json:"all_passed"`

	Results []CheckResult `json:"results"`

	// Failures and warnings bucketed by severity.
	Critical []CheckResult `json:"critical,omitempty"`
	Errors   []CheckResult `json:"errors,omitempty"`
	Warnings []CheckResult `json:"warnings,omitempty"`
	Infos    []CheckResult `json:"infos,omitempty"`

	// Confidence is the product of every result's confidence.
	Confidence float64 `json:"confidence"`

	// EnginesRun lists engines in execution order.
	EnginesRun []EngineType `json:"engines_run"`

	// StoppedEarly is set when a Critical failure skipped the remaining
	// engines.
	StoppedEarly bool `json:"stopped_early,omitempty"`

	// Overridden is set when Force turned an overridable failure into a pass.
	Overridden bool `json:"overridden,omitempty"`
}

// NewAggregatedResult returns an empty, passing aggregate.
func NewAggregatedResult() AggregatedResult {
	return AggregatedResult{AllPassed: true, Confidence: 1.0}
}

// Add appends r and updates the buckets and confidence.
func (a *AggregatedResult) Add(r CheckResult) {
	a.Results = append(a.Results, r)
	a.Confidence *= r.Confidence
	if !r.Passed {
		a.AllPassed = false
	}
	switch r.Severity {
	case SeverityCritical:
		a.Critical = append(a.Critical, r)
	case SeverityError:
		a.Errors = append(a.Errors, r)
	case SeverityWarning:
		a.Warnings = append(a.Warnings, r)
	default:
		a.Infos = append(a.Infos, r)
	}
}

// Merge appends all results of other.
func (a *AggregatedResult) Merge(other AggregatedResult) {
	for _, r := range other.Results {
		a.Add(r)
	}
}

// HasCritical reports whether any Critical failure was recorded.
func (a AggregatedResult) HasCritical() bool {
	for _, r := range a.Critical {
		if !r.Passed {
			return true
		}
	}
	return false
}

// Failures returns all failing results in order.
func (a AggregatedResult) Failures() []CheckResult {
	var out []CheckResult
	for _, r := range a.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// CanOverride reports whether every failure may be overridden.
func (a AggregatedResult) CanOverride() bool {
	for _, r := range a.Results {
		if !r.Passed && !r.CanOverride {
			return false
		}
	}
	return true
}

// Allowed reports whether the operation may proceed: no failure of Error
// severity or above, or the failures were overridden.
func (a AggregatedResult) Allowed() bool {
	if a.Overridden {
		return true
	}
	for _, r := range a.Results {
		if r.Blocks() {
			return false
		}
	}
	return true
}

// PrimaryFailure returns the most severe failure, earliest first.
func (a AggregatedResult) PrimaryFailure() (CheckResult, bool) {
	var best CheckResult
	found := false
	for _, r := range a.Results {
		if r.Passed {
			continue
		}
		if !found || r.Severity > best.Severity {
			best, found = r, true
		}
	}
	return best, found
}

// FailureType returns the failure type of the primary failure, or
// FailureNone.
func (a AggregatedResult) FailureType() equipment.FailureType {
	if r, ok := a.PrimaryFailure(); ok {
		return r.FailureType
	}
	return equipment.FailureNone
}

// WarningMessages returns the messages of passing warnings and
// non-blocking failures.
func (a AggregatedResult) WarningMessages() []string {
	var out []string
	for _, r := range a.Results {
		if r.Severity == SeverityWarning {
			out = append(out, r.Message)
		}
	}
	return out
}

// Summary renders a one-line description.
func (a AggregatedResult) Summary() string {
	if a.AllPassed {
		return fmt.Sprintf("passed (%d checks, confidence %.2f)", len(a.Results), a.Confidence)
	}
	msgs := make([]string, 0, len(a.Failures()))
	for _, r := range a.Failures() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", r.Severity, r.Message))
	}
	return strings.Join(msgs, "; ")
}
