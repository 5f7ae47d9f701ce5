package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
storage:
  driver: redis
redis:
  addr: "redis:6379"
  db: 2
  idle_timeout: 30s
definitions:
  directory: ./definitions
snowflake:
  machine_id: 7
  epoch: 2023-06-01T00:00:00Z
events:
  buffer_size: 16
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Redis.IdleTimeout)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "unset fields keep their defaults")
	assert.Equal(t, "./definitions", cfg.Definitions.Directory)
	assert.Equal(t, uint16(7), cfg.Snowflake.MachineID)
	assert.True(t, cfg.Snowflake.Epoch.Equal(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 16, cfg.Events.BufferSize)
}

func TestLoadDefault(t *testing.T) {
	cfg, err := LoadDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)

	_, err = LoadDefault(writeConfig(t, "log: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"UnknownDriver", "storage: {driver: etcd}", `unknown storage driver "etcd"`},
		{"PostgresWithoutDSN", "storage: {driver: postgres}", "postgres storage requires postgres.dsn"},
		{"UnknownLevel", "log: {level: loud}", `unknown log level "loud"`},
		{"UnknownFormat", "log: {format: xml}", `unknown log format "xml"`},
		{"NegativeBuffer", "events: {buffer_size: -1}", "events.buffer_size must not be negative, got -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg, err := Load(writeConfig(t, "storage: {driver: postgres}\npostgres: {dsn: \"postgres://localhost/flownet\"}"))
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger := cfg.Logger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "execution_id", 1)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, float64(1), record["execution_id"])

	buf.Reset()
	cfg.Log.Format = "text"
	cfg.Log.Level = "debug"
	cfg.Logger(&buf).Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
