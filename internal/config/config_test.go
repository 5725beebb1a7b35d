package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-nexus/nexus/internal/apperr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nexus.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nexus.json"))
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8390, cfg.Bridge.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"binary_path": "/usr/local/bin/opencode", "host": "0.0.0.0", "port": 5000},
		"log_level": "DEBUG"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/opencode", cfg.Server.BinaryPath)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	// Untouched sections keep defaults.
	assert.Equal(t, 8390, cfg.Bridge.Port)
}

func TestLoadJSONCComments(t *testing.T) {
	path := writeConfig(t, `{
		// supervised server
		"server": {"binary_path": "opencode", "host": "127.0.0.1", "port": 4242},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Server.Port)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("NEXUS_TEST_BINARY", "/opt/opencode/bin/opencode")
	path := writeConfig(t, `{
		"server": {"binary_path": "{env:NEXUS_TEST_BINARY}", "host": "127.0.0.1", "port": 4096}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/opencode/bin/opencode", cfg.Server.BinaryPath)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("NEXUS_SERVER_PORT", "9000")
	t.Setenv("NEXUS_API_KEY", "sk-test")
	path := writeConfig(t, `{"server": {"binary_path": "opencode", "host": "127.0.0.1", "port": 4096}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "api_key", cfg.Auth.Scheme)
	assert.Equal(t, "sk-test", cfg.Auth.APIKey)
}

func TestValidateRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, 80, 1023, 65536, 100000, -1} {
		cfg := Default()
		cfg.Server.Port = port
		err := Validate(cfg)
		require.Error(t, err, "port %d", port)
		assert.Equal(t, apperr.KindValidation, apperr.Classify(err).Kind)
	}
}

func TestValidateAcceptsPortRange(t *testing.T) {
	for _, port := range []int{1024, 4096, 65535} {
		cfg := Default()
		cfg.Server.Port = port
		assert.NoError(t, Validate(cfg), "port %d", port)
	}
}

func TestValidateRejectsUnknownAuthScheme(t *testing.T) {
	cfg := Default()
	cfg.Auth.Scheme = "kerberos"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.Classify(err).Kind)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.Classify(err).Kind)
}
