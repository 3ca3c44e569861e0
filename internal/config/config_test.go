package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/metrodocs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/metrodocs", cfg.DatabaseURL)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 1500, cfg.SplitThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.ExtraRoles)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/metrodocs")
	t.Setenv("EMBEDDING_DIM", "1024")
	t.Setenv("PORT", "8080")
	t.Setenv("EXTRA_ROLES", "Auditor, SafetyOfficer,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"Auditor", "SafetyOfficer"}, cfg.ExtraRoles)
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/metrodocs")
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}
