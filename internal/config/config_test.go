package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr())
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 10, cfg.RateLimit.PerMinute)
	assert.Equal(t, "models/tb_model.onnx", cfg.Model.Path)
	assert.Equal(t, "tb_model.onnx", cfg.Model.FallbackPath)
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8080"
  read_timeout: 5s
model:
  path: /srv/a.onnx
ratelimit:
  per_minute: 3
cors:
  allowed_origins:
    - https://example.org
`), 0o600))

	t.Setenv("TBX_MODEL_FALLBACK_PATH", "/srv/b.onnx")
	t.Setenv("TBX_RATELIMIT_PER_DAY", "1000")
	t.Setenv("TBX_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TBX_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/srv/a.onnx", cfg.Model.Path)
	assert.Equal(t, "/srv/b.onnx", cfg.Model.FallbackPath)
	assert.Equal(t, 3, cfg.RateLimit.PerMinute)
	assert.Equal(t, 50, cfg.RateLimit.PerHour)
	assert.Equal(t, 1000, cfg.RateLimit.PerDay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadHonorsPORT(t *testing.T) {
	t.Setenv("PORT", "9999")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"8080\"\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port, "PORT beats the file")

	t.Setenv("TBX_SERVER_PORT", "7000")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("TBX_UPLOAD_MAX_BYTES", "0")
	_, err := Load("")
	assert.ErrorContains(t, err, "upload.max_bytes")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.PerHour = -1
	cfg.Log.Format = "xml"
	cfg.CORS.AllowedOrigins = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.per_hour")
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "cors.allowed_origins")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "model.fallback_path", envKey("TBX_MODEL_FALLBACK_PATH"))
	assert.Equal(t, "ratelimit.per_minute", envKey("TBX_RATELIMIT_PER_MINUTE"))
	assert.Equal(t, "server.port", envKey("TBX_SERVER_PORT"))
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", ServerConfig{Port: "8080"}.Addr())
	assert.Equal(t, "127.0.0.1:8080", ServerConfig{Port: "127.0.0.1:8080"}.Addr())
}
