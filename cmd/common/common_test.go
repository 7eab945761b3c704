package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
control_listen_addr: ":6000"
max_items: 25
tick_seconds: 5
store:
  backend: bolt
  bolt_path: /tmp/bidwire.db
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":6000", cfg.ControlListenAddr)
	require.Equal(t, 25, cfg.MaxItems)
	require.Equal(t, 10, cfg.MaxAccounts) // default survives
	require.Equal(t, 5*time.Second, cfg.Tick())
	require.Equal(t, "bolt", cfg.Store.Backend)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "etcd"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Backend = "bolt"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Workers = 0
	require.Error(t, cfg.Validate())

	require.NoError(t, DefaultConfig().Validate())
}

func TestNewStoreMemory(t *testing.T) {
	st, err := DefaultConfig().NewStore()
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
