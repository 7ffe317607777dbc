package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqueum/js8chess/pkg/config"
)

func withTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestLoadCreatesDefaultsWhenAbsent(t *testing.T) {
	withTempHome(t)

	cfg := config.Load()
	assert.Equal(t, config.Default().JS8Port, cfg.JS8Port)
	assert.Equal(t, "CALLSIGN", cfg.LocalCallsign)
	assert.Equal(t, "SWL", cfg.RemoteCallsign)

	path, err := config.Path()
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestLoadNormalizesCallsignsToUppercase(t *testing.T) {
	withTempHome(t)

	cfg := config.Default()
	cfg.LocalCallsign = "  w1aw  "
	cfg.RemoteCallsign = "k1abc"
	require.NoError(t, config.Save(cfg))

	loaded := config.Load()
	assert.Equal(t, "W1AW", loaded.LocalCallsign)
	assert.Equal(t, "K1ABC", loaded.RemoteCallsign)
}

func TestLoadFallsBackToDefaultOnMalformedFile(t *testing.T) {
	withTempHome(t)

	path, err := config.Path()
	require.NoError(t, err)
	require.NoError(t, config.Save(config.Default()))

	// Corrupt the file after it exists.
	require.NoError(t, writeFile(path, "not json"))

	cfg := config.Load()
	assert.Equal(t, config.Default().JS8Host, cfg.JS8Host)
}

func TestSaveRoundTrips(t *testing.T) {
	withTempHome(t)

	cfg := config.Default()
	cfg.MaxRetries = 7
	cfg.AutoAccept = false
	require.NoError(t, config.Save(cfg))

	loaded := config.Load()
	assert.Equal(t, 7, loaded.MaxRetries)
	assert.False(t, loaded.AutoAccept)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}
