package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigTOML(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeFile(t, "ecmr.toml", `
[server]
port = "9090"

[database]
driver = "memory"

[security]
tan_ttl = "5m"

[archive]
age_threshold = "72h"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Security.TANTTL.Duration)
	assert.Equal(t, 72*time.Hour, cfg.Archive.AgeThreshold.Duration)
	assert.Equal(t, 2048, cfg.Key.KeyBits, "defaults survive partial files")
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfigJSON(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeFile(t, "ecmr.json", `{"federation": {"request_timeout": "3s"}, "database": {"driver": "memory"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Federation.RequestTimeout.Duration)
	assert.Equal(t, "8000", cfg.Server.Port)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PORT", "7000")
	path := writeFile(t, "ecmr.json", `{"server": {"port": "9000"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	path := writeFile(t, "ecmr.json", `{"database": {"driver": "mysql"}}`)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestLoadConfigRejectsWeakKeys(t *testing.T) {
	path := writeFile(t, "ecmr.toml", "[key]\nkey_bits = 1024\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "key_bits")
}
