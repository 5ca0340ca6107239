package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeygenText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewKeygenCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	require.NoError(t, cmd.Execute())

	key, err := hex.DecodeString(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestKeygenJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewKeygenCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--length", "64"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Key    string `json:"key"`
			Length int    `json:"length"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 64, resp.Data.Length)
	assert.Len(t, resp.Data.Key, 128)
}

func TestKeygenKeysDiffer(t *testing.T) {
	gen := func() string {
		buf := &bytes.Buffer{}
		cmd := NewKeygenCommand(&RootOptions{Format: "text"})
		cmd.SetOut(buf)
		require.NoError(t, cmd.Execute())
		return strings.TrimSpace(buf.String())
	}
	assert.NotEqual(t, gen(), gen())
}

func TestKeygenTooShort(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewKeygenCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--length", "16"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "cannot generate a 16 byte key")
	assert.Contains(t, buf.String(), "Error [E105]")
}
