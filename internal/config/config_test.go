package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kvs":{"addr":"kvs-a:7000"}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "kvs-a:7000", cfg.KVS.Addr)
	// Defaults survive a partial override.
	require.Equal(t, "NORMAL", cfg.KVS.DefaultConsistency)
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kvs:\n  addr: kvs-b:7000\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "kvs-b:7000", cfg.KVS.Addr)
}

func TestLoadFromEnvOverridesDefault(t *testing.T) {
	t.Setenv("SQUALL_KVS_ADDR", "kvs-c:7000")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	require.Equal(t, "kvs-c:7000", cfg.KVS.Addr)
}
