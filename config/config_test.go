package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, uint64(100), cfg.Market.FeeBps)
	require.Equal(t, uint64(50), cfg.Stable.LiquidationThreshold)
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/agora"

[market]
FeeBps = 250

[stable]
LiquidationThreshold = 70
LiquidationBonusBps = 500

[index]
BucketWidthSeconds = 43200
FeedEndpoints = ["https://feed.example.com/rate"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, uint64(250), cfg.Market.FeeBps)
	require.Equal(t, uint64(70), cfg.Stable.LiquidationThreshold)
	require.Equal(t, uint64(43200), cfg.Index.BucketWidthSeconds)
	require.Equal(t, []string{"https://feed.example.com/rate"}, cfg.Index.FeedEndpoints)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Market.FeeBps = 10_001
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Stable.LiquidationThreshold = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RPCAddress = " "
	require.Error(t, cfg.Validate())
}
