package fedrepair_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedrepair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "fedrepair.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[coordinator]
url = "https://client-a.example:7070"
tls_verification = true

[simulation]
rounds = 7
`), 0o600))

	cfg, err := fedrepair.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://client-a.example:7070", cfg.Coordinator.URL)
	assert.True(t, cfg.Coordinator.TLSVerification)
	assert.Equal(t, fedrepair.DefAggregatorURL, cfg.Aggregator.URL)
	assert.Equal(t, 7, cfg.Simulation.Rounds)
	assert.Equal(t, 3, cfg.Simulation.Clients)

	_, err = fedrepair.LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[coordinator\nurl ="), 0o600))
	_, err = fedrepair.LoadConfig(bad)
	assert.Error(t, err)
}
