package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/facevault/pkg/identity"
	"github.com/forest6511/facevault/pkg/store"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir(), cfg.DataDir)
	assert.Equal(t, store.DBFileName, cfg.DBFile)
	assert.Equal(t, identity.DefaultThreshold, cfg.Match.Threshold)
	assert.Equal(t, identity.DefaultDimension, cfg.Match.Dimension)
	assert.Equal(t, 1, cfg.Match.FrameStride)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dataDir+`
db_file: personal.db
match:
  threshold: 0.45
  dimension: 64
  frame_stride: 3
log:
  level: debug
  format: json
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "personal.db", cfg.DBFile)
	assert.Equal(t, 0.45, cfg.Match.Threshold)
	assert.Equal(t, 64, cfg.Match.Dimension)
	assert.Equal(t, 3, cfg.Match.FrameStride)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, filepath.Join(dataDir, "personal.db"), cfg.Store().Path())

	m, err := cfg.Matcher()
	require.NoError(t, err)
	assert.Equal(t, 0.45, m.Threshold)
	assert.Equal(t, 64, m.Dimension)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "match:\n  threshold: 0.45\n", 0600)

	t.Setenv("FACEVAULT_MATCH_THRESHOLD", "0.3")
	t.Setenv("FACEVAULT_MATCH_FRAME_STRIDE", "5")
	t.Setenv("FACEVAULT_DATA_DIR", "/tmp/fv-data")
	t.Setenv("FACEVAULT_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Match.Threshold)
	assert.Equal(t, 5, cfg.Match.FrameStride)
	assert.Equal(t, "/tmp/fv-data", cfg.DataDir)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"FACEVAULT_DATA_DIR":           "data_dir",
		"FACEVAULT_DB_FILE":            "db_file",
		"FACEVAULT_MATCH_THRESHOLD":    "match.threshold",
		"FACEVAULT_MATCH_FRAME_STRIDE": "match.frame_stride",
		"FACEVAULT_LOG_FORMAT":         "log.format",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := writeConfig(t, "data_dir: ~/vaults/personal\n", 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "vaults", "personal"), cfg.DataDir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative threshold", "match:\n  threshold: -1\n"},
		{"negative dimension", "match:\n  dimension: -4\n"},
		{"negative stride", "match:\n  frame_stride: -2\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"db file with path", "db_file: ../elsewhere.db\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content, 0600))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadRejectsWritableFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}
	path := writeConfig(t, "log:\n  level: info\n", 0666)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, big, 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "match: [unclosed\n", 0600))
	require.Error(t, err)
}
