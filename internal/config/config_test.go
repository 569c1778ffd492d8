package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/roulettebot/feeds"
	"github.com/web3guy0/roulettebot/risk"
)

func setRequired(t *testing.T) {
	t.Setenv("IDENTITY_TOKEN", "tok")
	t.Setenv("AUTH_URL", "https://auth.example/api")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, feeds.DefaultFeedURL, cfg.FeedURL)
	assert.Equal(t, feeds.DefaultTableID, cfg.TableID)
	assert.Equal(t, risk.ModeLive, cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 20*time.Minute, cfg.CredentialTTL)

	table, err := cfg.StakeTable()
	require.NoError(t, err)
	assert.True(t, table[0].Equal(decimal.RequireFromString("1.50")))

	fc := cfg.FeedConfig()
	assert.Equal(t, 5*time.Second, fc.ReconnectBase)
	assert.Equal(t, 30*time.Second, fc.ReconnectMax)

	sc := cfg.SessionConfig()
	assert.Equal(t, 2*time.Minute, sc.Lead)
	assert.Equal(t, 3, sc.MaxRenewalAttempts)
}

func TestLoadRequiresIdentityToken(t *testing.T) {
	t.Setenv("AUTH_URL", "https://auth.example/api")
	t.Setenv("IDENTITY_TOKEN", "")

	_, err := Load()
	assert.ErrorContains(t, err, "IDENTITY_TOKEN")
}

func TestLoadInlineStakesWithMultiplier(t *testing.T) {
	setRequired(t)
	t.Setenv("STAKE_TABLE", "1,2,4,8,16,32,64,128,256,512")
	t.Setenv("STAKE_MULTIPLIER", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	table, err := cfg.StakeTable()
	require.NoError(t, err)
	assert.True(t, table[0].Equal(decimal.RequireFromString("0.50")))
	assert.True(t, table[9].Equal(decimal.RequireFromString("256")))
}

func TestLoadRejectsShortStakeTable(t *testing.T) {
	setRequired(t)
	t.Setenv("STAKE_TABLE", "1,2,3")

	_, err := Load()
	assert.ErrorContains(t, err, "10 entries")
}

func TestLoadStakeFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "stakes.yaml")
	content := "stakes: [1.00, 2.00, 4.00, 8.00, 16.00, 32.00, 64.00, 128.00, 256.00, 512.00]\nmultiplier: \"1.5\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("STAKE_TABLE_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StakeMultiplier.Equal(decimal.RequireFromString("1.5")))

	table, err := cfg.StakeTable()
	require.NoError(t, err)
	assert.True(t, table[0].Equal(decimal.RequireFromString("1.50")))
	assert.True(t, table[1].Equal(decimal.RequireFromString("3.00")))
}

func TestLoadModeAndGate(t *testing.T) {
	setRequired(t)
	t.Setenv("MODE", "gated")
	t.Setenv("GATE_STAGE", "4")
	t.Setenv("GATE_THRESHOLD", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, risk.ModeGated, cfg.Mode)
	assert.Equal(t, 4, cfg.GateStage)
	assert.Equal(t, 3, cfg.GateThreshold)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	setRequired(t)
	t.Setenv("MODE", "yolo")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadTimings(t *testing.T) {
	setRequired(t)
	t.Setenv("RENEWAL_LEAD", "30m")

	_, err := Load()
	assert.ErrorContains(t, err, "RENEWAL_LEAD")
}

func TestLoadChatID(t *testing.T) {
	setRequired(t)
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	_, err := Load()
	assert.ErrorContains(t, err, "TELEGRAM_CHAT_ID")
}
