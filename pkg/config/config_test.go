package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Empty(t, cfg.AI.BaseURL, "ai is optional by default")
	assert.Equal(t, 20*time.Second, cfg.AI.RequestTimeout)
	assert.Equal(t, 1, cfg.Pipeline.DedupDateToleranceDays)
	assert.Equal(t, 0.80, cfg.Pipeline.DedupSimilarity)
	assert.Equal(t, 0.70, cfg.Pipeline.ReclassifyThreshold)
	assert.Equal(t, 3, cfg.Pipeline.RuleProposalMinCount)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DEDUP_SIMILARITY", "0.9")
	t.Setenv("AI_REQUEST_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Pipeline.DedupSimilarity)
	assert.Equal(t, 5*time.Second, cfg.AI.RequestTimeout)
}

func TestLoadRejectsBadSimilarity(t *testing.T) {
	t.Setenv("DEDUP_SIMILARITY", "1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "secret", Database: "ledger", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=app password=secret dbname=ledger sslmode=require", c.DSN())
}
