package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, replication.PolicyAlways, cfg.Replication.Policy)
	assert.Equal(t, time.Second/30, cfg.Server.TickInterval())
	assert.True(t, cfg.Security.Service().EnableHMAC)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "server.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.InDelta(t, 20.0, cfg.Server.TickRate, 1e-9)
	assert.Equal(t, 64, cfg.Server.MaxOpsPerTick, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Security.MaxOpsPerSecond)
	assert.Equal(t, 2*time.Minute, cfg.Security.NonceTTL)
	assert.Equal(t, replication.PolicyOnlyToRelevant, cfg.Replication.Policy)
	assert.Equal(t, replication.CompressionLZ4, cfg.Replication.Compression)
	assert.InDelta(t, 50.0, cfg.Rules.Weight.BaseCapacity, 1e-9)
	assert.True(t, cfg.Rules.Excluded().HasTagExact(equipment.SlotBadge))
	assert.Equal(t, "/var/lib/suspense/journal.db", cfg.Store.Path)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("SUSPENSE_SERVER_ADDR", ":7000")
	t.Setenv("SUSPENSE_REPLICATION_COMPRESSION", "none")
	t.Setenv("SUSPENSE_SECURITY_BAN_DURATION", "5m")
	t.Setenv("SUSPENSE_SECURITY_KEY", "00112233")
	t.Setenv("SUSPENSE_RULES_EXCLUDED_SLOTS", "Equipment.Slot.Armband")

	cfg, err := Load(filepath.Join("testdata", "server.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, replication.CompressionNone, cfg.Replication.Compression)
	assert.Equal(t, 5*time.Minute, cfg.Security.BanDuration)
	assert.Equal(t, "00112233", cfg.Security.Key)
	assert.Equal(t, []string{"Equipment.Slot.Armband"}, cfg.Rules.ExcludedSlots)
	assert.Equal(t, replication.PolicyOnlyToRelevant, cfg.Replication.Policy)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "typo.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("SUSPENSE_REPLICATION_POLICY", "sometimes")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.TickRate = 0
	cfg.Security.NonceCapacity = 0
	cfg.Replication.UpdateRate = 100
	cfg.Prediction.MinConfidence = 2
	cfg.Server.MaxQueuedPerPlayer = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"tick_rate", "nonce_capacity", "update_rate", "min_confidence", "max_queued_per_player"} {
		assert.Contains(t, err.Error(), want)
	}
}
