package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
)

// Golden traces live in testdata/golden. After an intended behavior change:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	files, err := ScenarioFiles("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		sc, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(sc.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseScenario_Valid(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: parse_me
observers: [p2, p3]
setup:
  - { op: equip, slot: holster, item: PM }
steps:
  - { action: tick }
  - name: rifle
    op: Equip
    slot: "0"
    item: AK74
    durability: 0.5
    priority: High
    expect: { success: true, failure: none, slots: [primary] }
  - { name: again, replay: true }
assertions:
  - { type: journal, count: 2 }
`))
	require.NoError(t, err)

	assert.Equal(t, "parse_me", sc.Name)
	assert.Equal(t, "p1", sc.player())
	assert.Equal(t, []string{"p2", "p3"}, sc.Observers)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, ActionTick, sc.Steps[0].Action)
	require.NotNil(t, sc.Steps[1].Durability)
	assert.InDelta(t, 0.5, *sc.Steps[1].Durability, 1e-9)
	assert.True(t, sc.Steps[2].Replay)
	require.Len(t, sc.Assertions, 1)
	assert.Equal(t, 2, *sc.Assertions[0].Count)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"missing name", "steps: [{action: tick}]", "name is required"},
		{"no steps", "name: x", "steps list is required"},
		{"unknown field", "name: x\nsteps: [{action: tick}]\nbogus: 1", "field bogus not found"},
		{"action and op", "name: x\nsteps: [{action: tick, op: equip}]", "exclusive"},
		{"unknown action", "name: x\nsteps: [{action: dance}]", `unknown action "dance"`},
		{"level without value", "name: x\nsteps: [{action: level}]", "level must be positive"},
		{"expect on action", "name: x\nsteps: [{action: tick, expect: {success: true}}]", "only valid on operations"},
		{"unknown op", "name: x\nsteps: [{op: juggle}]", "juggle"},
		{"bad priority", "name: x\nsteps: [{op: equip, priority: Urgent}]", `unknown priority "Urgent"`},
		{"bad durability", "name: x\nsteps: [{op: equip, durability: 2}]", "outside [0, 1]"},
		{"bad failure", "name: x\nsteps: [{op: equip, expect: {failure: Grumpy}}]", "Grumpy"},
		{"leading replay", "name: x\nsteps: [{replay: true}]", "replay needs a previous operation"},
		{"queued setup", "name: x\nsetup: [{op: equip, queued: true}]\nsteps: [{action: tick}]", "setup steps run directly"},
		{"setup without op", "name: x\nsetup: [{slot: primary}]\nsteps: [{action: tick}]", "setup[0]: op is required"},
		{"unknown assertion", "name: x\nsteps: [{action: tick}]\nassertions: [{type: vibes}]", `unknown assertion type "vibes"`},
		{"journal without count", "name: x\nsteps: [{action: tick}]\nassertions: [{type: journal}]", "non-negative count"},
		{"slot_item without item", "name: x\nsteps: [{action: tick}]\nassertions: [{type: slot_item, slot: primary}]", "slot and item are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestSlotIndex(t *testing.T) {
	lo := loadout.Default()

	idx, err := slotIndex(lo, "headwear")
	require.NoError(t, err)
	assert.Equal(t, 4, idx)

	idx, err = slotIndex(lo, "13")
	require.NoError(t, err)
	assert.Equal(t, 13, idx)

	idx, err = slotIndex(lo, "")
	require.NoError(t, err)
	assert.Equal(t, equipment.NoSlot, idx)

	for _, bad := range []string{"14", "-1", "pocket"} {
		_, err = slotIndex(lo, bad)
		assert.Error(t, err, bad)
	}
}

func TestRun_ExpectationFailuresAreReported(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong_expectations
steps:
  - name: rifle
    op: equip
    slot: primary
    item: AK74
    expect: { success: false, failure: ItemBroken, slots: [secondary] }
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, `step "rifle": success: expected false, got true`)
	assert.Contains(t, joined, "failure: expected ItemBroken, got None")
	assert.Contains(t, joined, "slots: expected [1], got [0]")
	assert.Equal(t, map[string]string{"primary": "AK74"}, result.Final)
}

func TestRun_AssertionFailuresAreReported(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong_assertions
steps:
  - { op: equip, slot: holster, item: PM }
assertions:
  - { type: slot_item, slot: holster, item: AK74 }
  - { type: slot_empty, slot: holster }
  - { type: violations, count: 1 }
  - { type: journal, count: 5 }
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "assertion slot_item failed: expected AK74, got PM")
	assert.Contains(t, result.Errors[1], "assertion slot_empty failed")
	assert.Contains(t, result.Errors[2], "expected 1, got 0")
	assert.Contains(t, result.Errors[3], "expected 5 transactions, got 1")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: bad_setup
setup:
  - { op: unequip, from: primary }
steps:
  - { action: tick }
`))
	require.NoError(t, err)

	_, err = Run(t.Context(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0]")
}

func TestRun_LoadoutRelativeToScenario(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join("..", "loadout", "testdata", "assault.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assault.yaml"), src, 0644))

	path := writeScenario(t, dir, `
name: custom_loadout
loadout: assault.yaml
steps:
  - name: sidearm
    op: equip
    slot: secondary
    item: PM
    expect: { success: true, slots: [secondary] }
assertions:
  - { type: slot_item, slot: primary, item: AK74 }
  - { type: slot_item, slot: headwear, item: Altyn_Helmet }
`)
	sc, err := LoadScenario(path)
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]string{
		"primary":   "AK74",
		"secondary": "PM",
		"headwear":  "Altyn_Helmet",
	}, result.Final)
}

func TestRun_IsDeterministic(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "equip_replicate.yaml"))
	require.NoError(t, err)

	first, err := Run(t.Context(), sc)
	require.NoError(t, err)
	second, err := Run(t.Context(), sc)
	require.NoError(t, err)

	a, err := MarshalTrace(sc.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(sc.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalTrace(t *testing.T) {
	r := NewResult()
	r.add(TraceEvent{Kind: KindOperation, Step: "x", Op: "Equip", Success: boolPtr(false), Failure: "ItemBroken"})
	r.add(TraceEvent{Kind: KindTick})
	r.Final["primary"] = "AK74"

	out, err := MarshalTrace("demo", r)
	require.NoError(t, err)

	want := `{
  "scenario": "demo",
  "trace": [
    {
      "seq": 1,
      "kind": "operation",
      "step": "x",
      "op": "Equip",
      "success": false,
      "failure": "ItemBroken"
    },
    {
      "seq": 2,
      "kind": "tick"
    }
  ],
  "final": {
    "primary": "AK74"
  }
}
`
	assert.Equal(t, want, string(out))
}

func TestRunPaths(t *testing.T) {
	dir := t.TempDir()
	good := writeScenario(t, dir, "name: ok\nsteps:\n  - { action: tick }\n")
	missing := filepath.Join(dir, "missing.yaml")

	results := RunPaths(t.Context(), []string{good, missing})
	require.Len(t, results, 2)

	assert.True(t, results[0].Passed())
	assert.Equal(t, "ok", results[0].Name)
	require.NotNil(t, results[0].Result)
	require.Len(t, results[0].Result.Trace, 1)
	assert.Equal(t, KindTick, results[0].Result.Trace[0].Kind)

	assert.False(t, results[1].Passed())
	assert.Contains(t, results[1].Err, "failed to read scenario file")
}

func TestScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0755))

	files, err := ScenarioFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	_, err = ScenarioFiles(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}
