package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileMissing)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
httpBinding: 127.0.0.1:8080
dataDir: /tmp/calsync-test
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, StoreBackendFile, cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 60*time.Second, cfg.Heartbeat.ReapInterval)
	assert.Equal(t, 100, cfg.Sessions.MaxConnections)
	assert.Equal(t, 256, cfg.Sessions.SendBufferSize)
	assert.Greater(t, cfg.RateLimiters.Calendar.Limit, 0.0)
	assert.Greater(t, cfg.RateLimiters.Default.Burst, 0)
}

func TestLoadConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing httpBinding",
			content: "dataDir: /tmp/x\n",
			wantErr: ErrHttpBindingMissing,
		},
		{
			name:    "missing dataDir",
			content: "httpBinding: 127.0.0.1:8080\n",
			wantErr: ErrDataDirMissing,
		},
		{
			name: "tls cert without key",
			content: `
httpBinding: 127.0.0.1:8080
dataDir: /tmp/x
tls:
  cert: server.crt
`,
			wantErr: ErrTLSMissing,
		},
		{
			name: "unknown store backend",
			content: `
httpBinding: 127.0.0.1:8080
dataDir: /tmp/x
store:
  backend: postgres
`,
			wantErr: ErrStoreBackendUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestGenerateConfigIsValid(t *testing.T) {
	cfg := GenerateConfig()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.HttpBinding)
	assert.NotEmpty(t, cfg.DataDir)
}
