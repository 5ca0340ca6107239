package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
)

// Scenario is a scripted session of one player against an in-process
// server.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Loadout is a loadout file or CUE directory, relative to the scenario
	// file. Empty selects the built-in loadout.
	Loadout string `yaml:"loadout,omitempty"`

	// Player defaults to "p1".
	Player string `yaml:"player,omitempty"`

	// Character overrides the loadout's default character.
	Character *rules.Character `yaml:"character,omitempty"`

	// Observers are further players registered as replication clients of
	// Player.
	Observers []string `yaml:"observers,omitempty"`

	// Setup steps are forced through the server before the trace starts
	// and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir resolves relative paths.
	dir string
}

// Step is either an operation (Op set) or a control action (Action set).
type Step struct {
	Name string `yaml:"name,omitempty"`

	// Action is one of tick, lock, unlock or level.
	Action string `yaml:"action,omitempty"`
	// Level is the new character level for the level action.
	Level int `yaml:"level,omitempty"`

	Op         string   `yaml:"op,omitempty"`
	Slot       string   `yaml:"slot,omitempty"`
	From       string   `yaml:"from,omitempty"`
	Item       string   `yaml:"item,omitempty"`
	Durability *float64 `yaml:"durability,omitempty"`
	Priority   string   `yaml:"priority,omitempty"`
	Force      bool     `yaml:"force,omitempty"`
	Simulated  bool     `yaml:"simulated,omitempty"`

	// Predict applies the operation to the client mirror before sending.
	Predict bool `yaml:"predict,omitempty"`
	// Queued defers the operation to the next tick.
	Queued bool `yaml:"queued,omitempty"`
	// Tamper alters the request after signing.
	Tamper bool `yaml:"tamper,omitempty"`
	// Replay resends the previous operation verbatim.
	Replay bool `yaml:"replay,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks an operation result. Unset fields are not checked.
type Expect struct {
	Success     *bool    `yaml:"success,omitempty"`
	Failure     string   `yaml:"failure,omitempty"`
	CanOverride *bool    `yaml:"can_override,omitempty"`
	Slots       []string `yaml:"slots,omitempty"`
	Warnings    *int     `yaml:"warnings,omitempty"`
	Prediction  string   `yaml:"prediction,omitempty"`
}

// Control actions.
const (
	ActionTick   = "tick"
	ActionLock   = "lock"
	ActionUnlock = "unlock"
	ActionLevel  = "level"
)

// LoadScenario reads a scenario file. Unknown fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes and validates a scenario. Relative loadout paths
// resolve against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// LoadLoadout returns the scenario's loadout.
func (s *Scenario) LoadLoadout() (*loadout.Loadout, error) {
	if s.Loadout == "" {
		return loadout.Default(), nil
	}
	path := s.Loadout
	if !filepath.IsAbs(path) && s.dir != "" {
		path = filepath.Join(s.dir, path)
	}
	return loadout.Load(path)
}

func (s *Scenario) player() string {
	if s.Player == "" {
		return "p1"
	}
	return s.Player
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, st := range s.Setup {
		if st.Op == "" {
			return fmt.Errorf("setup[%d]: op is required", i)
		}
		if st.Queued || st.Replay || st.Tamper || st.Predict {
			return fmt.Errorf("setup[%d]: setup steps run directly", i)
		}
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if len(s.Steps) > 0 && s.Steps[0].Replay {
		return fmt.Errorf("steps[0]: replay needs a previous operation")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch {
	case st.Action != "" && st.Op != "":
		return fmt.Errorf("action and op are exclusive")
	case st.Action != "":
		switch st.Action {
		case ActionTick, ActionLock, ActionUnlock:
		case ActionLevel:
			if st.Level < 1 {
				return fmt.Errorf("level must be positive")
			}
		default:
			return fmt.Errorf("unknown action %q", st.Action)
		}
		if st.Expect != nil {
			return fmt.Errorf("expect is only valid on operations")
		}
		return nil
	case st.Replay:
		return nil
	case st.Op == "":
		return fmt.Errorf("op or action is required")
	}
	if _, err := equipment.ParseOperationType(st.Op); err != nil {
		return err
	}
	if st.Priority != "" {
		if _, err := parsePriority(st.Priority); err != nil {
			return err
		}
	}
	if st.Durability != nil && (*st.Durability < 0 || *st.Durability > 1) {
		return fmt.Errorf("durability %.2f outside [0, 1]", *st.Durability)
	}
	if st.Expect != nil && st.Expect.Failure != "" {
		var ft equipment.FailureType
		if err := ft.UnmarshalText([]byte(st.Expect.Failure)); err != nil {
			return err
		}
	}
	return nil
}

func parsePriority(s string) (equipment.Priority, error) {
	for _, p := range []equipment.Priority{
		equipment.PriorityLow, equipment.PriorityNormal, equipment.PriorityHigh, equipment.PriorityCritical,
	} {
		if s == p.String() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// slotIndex resolves a slot name or numeric index. Empty means NoSlot.
func slotIndex(lo *loadout.Loadout, ref string) (int, error) {
	if ref == "" {
		return equipment.NoSlot, nil
	}
	if idx := lo.SlotIndex(ref); idx != equipment.NoSlot {
		return idx, nil
	}
	idx, err := strconv.Atoi(ref)
	if err != nil || idx < 0 || idx >= len(lo.Slots) {
		return 0, fmt.Errorf("unknown slot %q", ref)
	}
	return idx, nil
}
