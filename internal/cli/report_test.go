package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDefaultLoadout(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Loadout: tactical")
	assert.Contains(t, output, "Equipment Compliance Report")
	assert.Contains(t, output, "Level: 20  Class: Assault")
	assert.Contains(t, output, "Occupied: 0")
}

func TestReportCharacterOverrides(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--player-level", "5", "--class", "Character.Class.Marksman"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Level: 5  Class: Marksman")
}

func TestReportWithEquipJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReportCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--equip", "holster=PM", "--equip", "earpiece=GSSh_01"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Loadout    string  `json:"loadout"`
			Rate       float64 `json:"compliance_rate"`
			Compliance struct {
				Occupied  int `json:"occupied"`
				Compliant int `json:"compliant"`
				Slots     []struct {
					Slot   int    `json:"slot"`
					ItemID string `json:"item_id"`
				} `json:"slots"`
			} `json:"compliance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "tactical", resp.Data.Loadout)
	assert.Equal(t, 2, resp.Data.Compliance.Occupied)
	assert.Equal(t, 2, resp.Data.Compliance.Compliant)
	assert.InDelta(t, 1.0, resp.Data.Rate, 1e-9)
	require.Len(t, resp.Data.Compliance.Slots, 2)
	assert.Equal(t, 2, resp.Data.Compliance.Slots[0].Slot)
	assert.Equal(t, "PM", resp.Data.Compliance.Slots[0].ItemID)
	assert.Equal(t, 5, resp.Data.Compliance.Slots[1].Slot)
	assert.Equal(t, "GSSh_01", resp.Data.Compliance.Slots[1].ItemID)
}

func TestReportCustomLoadout(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--loadout", loadoutFixture("assault.yaml")})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Loadout: assault")
	assert.Contains(t, output, "AK74")
	assert.Contains(t, output, "Occupied: 2")
}

func TestReportInvalidLoadout(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--loadout", loadoutFixture("invalid.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E101]")
}

func TestReportBadEquipArg(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		want string
	}{
		{"missing separator", "holster", "want slot=ITEM"},
		{"missing item", "holster=", "want slot=ITEM"},
		{"unknown slot", "pocket=PM", `unknown slot "pocket"`},
		{"structural refusal", "holster=AK74", "IncompatibleType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewReportCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{"--equip", tt.arg})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
