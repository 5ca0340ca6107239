package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccessWrapsData(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(ValidationResult{Valid: true, Loadout: "tactical", Slots: 14, Items: 14}))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "tactical", resp.Data.Loadout)
	assert.Equal(t, 14, resp.Data.Slots)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		details any
	}{
		{"without details", ErrCodeStore, "database not found", nil},
		{"with details", ErrCodeLoadout, "failed to load loadout", []ValidationIssue{{Code: "E202", Message: "duplicate slot primary", Line: 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: buf}
			require.NoError(t, f.Error(tt.code, tt.message, tt.details))

			var resp map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp["status"])
			assert.NotContains(t, resp, "data")

			e, ok := resp["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.code, e["code"])
			assert.Equal(t, tt.message, e["message"])
			if tt.details == nil {
				assert.NotContains(t, e, "details")
			} else {
				assert.Contains(t, e, "details")
			}
		})
	}
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("✓ loadout tactical: 14 slots, 14 items"))
	assert.Equal(t, "✓ loadout tactical: 14 slots, 14 items\n", buf.String())
}

func TestOutputFormatter_TextErrorDetailsOnlyWhenVerbose(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		t.Run(fmt.Sprintf("verbose=%t", verbose), func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: verbose}

			require.NoError(t, f.Error(ErrCodeScenario, "scenario path not found", "./scenarios"))
			assert.Contains(t, buf.String(), "Error [E104]: scenario path not found")
			if verbose {
				assert.Contains(t, buf.String(), "Details: ./scenarios")
			} else {
				assert.NotContains(t, buf.String(), "Details")
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose enabled", true, true},
		{"verbose disabled", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			f.VerboseLog("Running %d scenario(s)", 5)
			if tt.wantLog {
				assert.Equal(t, "Running 5 scenario(s)\n", buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	f.VerboseLog("opened %s", "suspense.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "opened suspense.db\n", diag.String())
}

func TestExitError(t *testing.T) {
	plain := NewExitError(ExitFailure, "2 of 5 scenario(s) failed")
	assert.Equal(t, "2 of 5 scenario(s) failed", plain.Error())
	assert.Nil(t, errors.Unwrap(plain))

	cause := errors.New("no such file")
	wrapped := WrapExitError(ExitCommandError, "database not found", cause)
	assert.Equal(t, "database not found: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "scenario failed", errors.New("step 2")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}
