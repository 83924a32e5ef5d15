package database

import (
	"testing"

	"schwab-discord-notifier/internal/config"
	"schwab-discord-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase(t *testing.T) {
	t.Run("should migrate every model on an in-memory database", func(t *testing.T) {
		db, err := NewDatabase(&config.Database{Driver: "sqlite", DSN: "file::memory:"})
		require.NoError(t, err)
		defer Close(db)

		for _, m := range models.All() {
			assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
		}
	})

	t.Run("should reject an unknown driver", func(t *testing.T) {
		_, err := NewDatabase(&config.Database{Driver: "oracle", DSN: "x"})

		assert.ErrorContains(t, err, "unsupported database driver")
	})
}
