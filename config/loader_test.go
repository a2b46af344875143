/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServerConfig struct {
	Address string
	Timeout time.Duration
}

func (c *testServerConfig) KeyPrefix() string {
	return "server"
}

func (c *testServerConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("address", ":8080")
	dp.SetDefault("timeout", "30s")
}

func (c *testServerConfig) Set(dp DataProvider) error {
	var err error
	if c.Address, err = dp.GetString("address"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	return nil
}

type testNamespacesConfig struct {
	Namespaces map[string]struct {
		Limit  int          `mapstructure:"limit"`
		Window TimeDuration `mapstructure:"window"`
	}
}

func (c *testNamespacesConfig) SetProviderDefaults(_ DataProvider) {}

func (c *testNamespacesConfig) Set(dp DataProvider) error {
	return dp.UnmarshalKey("rateLimit.namespaces", &c.Namespaces, WithCustomTypesDecodeHook())
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("defaults are used when keys are absent", func(t *testing.T) {
		cfg := &testServerConfig{}
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{}`), DataTypeJSON, cfg))
		require.Equal(t, ":8080", cfg.Address)
		require.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("values are read relative to key prefix", func(t *testing.T) {
		cfg := &testServerConfig{}
		cfgData := `
server:
  address: 127.0.0.1:9090
  timeout: 5s
`
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), DataTypeYAML, cfg))
		require.Equal(t, "127.0.0.1:9090", cfg.Address)
		require.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("several configs are loaded at once", func(t *testing.T) {
		serverCfg := &testServerConfig{}
		nsCfg := &testNamespacesConfig{}
		cfgData := `
rateLimit:
  namespaces:
    fetch-url:
      limit: 10
      window: 1m
`
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(cfgData), DataTypeYAML, serverCfg, nsCfg))
		require.Equal(t, ":8080", serverCfg.Address)
		require.Len(t, nsCfg.Namespaces, 1)
		require.Equal(t, 10, nsCfg.Namespaces["fetch-url"].Limit)
		require.Equal(t, TimeDuration(time.Minute), nsCfg.Namespaces["fetch-url"].Window)
	})

	t.Run("invalid value is reported with its key", func(t *testing.T) {
		cfg := &testServerConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(`{"server":{"timeout":"forever"}}`), DataTypeJSON, cfg)
		require.ErrorContains(t, err, "server.timeout")
	})
}

func TestLoader_LoadFromFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  address: :7070\n"), 0o600))

	cfg := &testServerConfig{}
	require.NoError(t, NewLoader(NewViperAdapter()).LoadFromFile(cfgPath, DataTypeYAML, cfg))
	require.Equal(t, ":7070", cfg.Address)

	missingPath := filepath.Join(t.TempDir(), "missing.yml")
	err := NewLoader(NewViperAdapter()).LoadFromFile(missingPath, DataTypeYAML, cfg)
	require.ErrorContains(t, err, missingPath)
}

func TestDataTypeFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    DataType
		wantErr bool
	}{
		{path: "/etc/ratekit/config.yml", want: DataTypeYAML},
		{path: "config.YAML", want: DataTypeYAML},
		{path: "config.json", want: DataTypeJSON},
		{path: "config.toml", wantErr: true},
		{path: "config", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DataTypeFromPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLoader_LoadDefaults(t *testing.T) {
	t.Setenv("RATEKITTEST_SERVER_ADDRESS", ":6060")

	cfg := &testServerConfig{}
	require.NoError(t, NewDefaultLoader("ratekittest").LoadDefaults(cfg))
	require.Equal(t, ":6060", cfg.Address)
	require.Equal(t, 30*time.Second, cfg.Timeout)
}
