package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("should fall back to defaults when no config file exists", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()

		// Act
		cfg, err := LoadConfig(dir)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "fifo", cfg.Allocation.Policy)
		assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
		assert.Equal(t, 7, cfg.Poll.LookbackDays)
		assert.Equal(t, "FILLED", cfg.Poll.Status)
		assert.Equal(t, float64(100), cfg.Allocation.OptionMultiplier)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
	})

	t.Run("should read values from the config file", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		content := []byte(`
allocation:
  policy: lifo
poll:
  interval: 30s
discord:
  role_id: "1234"
`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), content, 0o600))

		// Act
		cfg, err := LoadConfig(dir)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "lifo", cfg.Allocation.Policy)
		assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
		assert.Equal(t, "1234", cfg.Discord.RoleID)
	})

	t.Run("should let environment variables override the file", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/hook")
		t.Setenv("POLL_LOOKBACK_DAYS", "3")

		// Act
		cfg, err := LoadConfig(dir)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "https://discord.example/hook", cfg.Discord.WebhookURL)
		assert.Equal(t, 3, cfg.Poll.LookbackDays)
	})

	t.Run("should reject an unknown allocation policy", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		t.Setenv("ALLOCATION_POLICY", "hifo")

		// Act
		_, err := LoadConfig(dir)

		// Assert
		assert.ErrorContains(t, err, "unknown allocation policy")
	})
}
