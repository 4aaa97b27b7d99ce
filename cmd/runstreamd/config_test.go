package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"RUNSTREAM_HTTP_ADDR", "RUNSTREAM_STORE", "REDIS_URL", "REDIS_PASSWORD", "MONGO_URI",
	"MONGO_DATABASE", "RUNSTREAM_PULSE", "RUNSTREAM_HEARTBEAT", "RUNSTREAM_REPLAY_RATE", "RUNSTREAM_DEBUG",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	require.NoError(t, cfg.validate())
	assert.False(t, cfg.usesRedis())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
store: mongo
mongo:
  uri: mongodb://db:27017
  database: events
stream:
  pulse: true
  max_len: 500
sse:
  heartbeat: 5s
  retry: 2s
  replay_rate: 100
schemas:
  messages: schemas/messages.json
`), 0o600))

	clearConfigEnv(t)
	t.Setenv("RUNSTREAM_HTTP_ADDR", ":9100")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("RUNSTREAM_HEARTBEAT", "not-a-duration")
	t.Setenv("RUNSTREAM_DEBUG", "true")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.Equal(t, storeMongo, cfg.Store)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "events", cfg.Mongo.Database)
	assert.Equal(t, 5*time.Second, cfg.Mongo.Timeout)
	assert.True(t, cfg.Stream.Pulse)
	assert.Equal(t, 500, cfg.Stream.MaxLen)
	assert.Equal(t, "redis:6379", cfg.Redis.URL)
	assert.Equal(t, 5*time.Second, cfg.SSE.Heartbeat, "invalid env values keep the configured value")
	assert.Equal(t, 2*time.Second, cfg.SSE.Retry)
	assert.InDelta(t, 100, cfg.SSE.ReplayRate, 0)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.usesRedis())
	assert.Equal(t, map[string]string{"messages": "schemas/messages.json"}, cfg.Schemas)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))
	_, err = loadConfig(path)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config)
	}{
		{"no_addr", func(c *config) { c.HTTPAddr = "" }},
		{"unknown_store", func(c *config) { c.Store = "sqlite" }},
		{"redis_without_url", func(c *config) { c.Store = storeRedis; c.Redis.URL = "" }},
		{"pulse_without_redis", func(c *config) { c.Stream.Pulse = true; c.Redis.URL = "" }},
		{"mongo_without_db", func(c *config) { c.Store = storeMongo; c.Mongo.Database = "" }},
		{"negative_rate", func(c *config) { c.SSE.ReplayRate = -1 }},
		{"negative_retention", func(c *config) { c.Redis.Retention = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}
