package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAPIURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty falls back to default", raw: "", want: DefaultAPIURL},
		{name: "blank falls back to default", raw: "   ", want: DefaultAPIURL},
		{name: "missing scheme assumes http", raw: "localhost:8000", want: "http://localhost:8000"},
		{name: "trailing slash stripped", raw: "https://api.example.com/", want: "https://api.example.com"},
		{name: "already normalized", raw: "https://api.example.com", want: "https://api.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAPIURL(tt.raw))
		})
	}
}

func TestParseCreatesDefaultConfig(t *testing.T) {
	t.Setenv(APIURLEnv, "")
	os.Unsetenv(APIURLEnv)
	path := filepath.Join(t.TempDir(), "emily", "config.json")

	config, err := Parse(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, DefaultAPIURL, config.APIURL)
	assert.Equal(t, "sqlite", config.Storage.Driver)
	assert.Equal(t, 8, config.Dashboard.CellWidthPx)
	assert.Equal(t, "all", config.Dashboard.DefaultFilter)
	assert.True(t, filepath.IsAbs(config.Storage.Path))
}

func TestParseMergesDefaults(t *testing.T) {
	os.Unsetenv(APIURLEnv)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"api_url": "api.example.com/", "storage": {"driver": "bolt", "path": "/tmp/emily.bolt"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", config.APIURL)
	assert.Equal(t, "bolt", config.Storage.Driver)
	assert.Equal(t, "/tmp/emily.bolt", config.Storage.Path)
	assert.Equal(t, 250, config.Storage.PollIntervalMs)
	assert.Equal(t, 30, config.RequestTimeout)
	assert.Equal(t, 3030, config.Server.Port)

	// Defaults are never aliased by a parsed config.
	assert.Equal(t, "sqlite", defaultConfig.Storage.Driver)
}

func TestEnvironmentOverridesAPIURL(t *testing.T) {
	t.Setenv(APIURLEnv, "https://staging.example.com/")
	config, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", config.APIURL)
}

func TestValidation(t *testing.T) {
	os.Unsetenv(APIURLEnv)
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"driver": "redis"}}`), 0644))
	_, err := Parse(path)
	assert.ErrorContains(t, err, "validating config")

	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"driver": "postgres"}}`), 0644))
	_, err = Parse(path)
	assert.ErrorContains(t, err, "validating config")

	require.NoError(t, os.WriteFile(path, []byte(`{"dashboard": {"default_filter": "bob"}}`), 0644))
	_, err = Parse(path)
	assert.ErrorContains(t, err, "validating config")
}
