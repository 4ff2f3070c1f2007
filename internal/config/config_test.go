package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DbType:       "badger",
		LockerType:   "inmemory",
		CacheType:    "bigcache",
		ChainType:    "none",
		ProverType:   "devnet",
		RollupUrl:    "http://127.0.0.1:8081",
		PollInterval: 10,
		FeeSigFigs:   2,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())

		cfg := validConfig()
		cfg.ChainType = "ethereum"
		cfg.EthRpcUrl = "http://127.0.0.1:8545"
		cfg.Contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
		cfg.EthPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
		require.NoError(t, cfg.Validate())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name        string
			edit        func(*Config)
			expectedErr string
		}{
			{"db type", func(c *Config) { c.DbType = "mysql" }, "db type not supported"},
			{"locker type", func(c *Config) { c.LockerType = "etcd" }, "locker type not supported"},
			{"cache type", func(c *Config) { c.CacheType = "memcached" }, "cache type not supported"},
			{"chain type", func(c *Config) { c.ChainType = "bitcoin" }, "chain type not supported"},
			{"prover type", func(c *Config) { c.ProverType = "plonk" }, "prover type not supported"},
			{"rollup url", func(c *Config) { c.RollupUrl = "" }, "missing rollup provider url"},
			{"poll interval", func(c *Config) { c.PollInterval = 0 }, "invalid poll interval"},
			{"fee sig figs", func(c *Config) { c.FeeSigFigs = -1 }, "invalid fee significant figures"},
			{
				"missing rpc url",
				func(c *Config) { c.ChainType = "ethereum" },
				"rpc url is missing",
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				cfg := validConfig()
				f.edit(cfg)
				err := cfg.Validate()
				require.Error(t, err)
				require.Contains(t, err.Error(), f.expectedErr)
			})
		}
	})
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.EthPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.SpendingKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

	str := cfg.String()
	require.False(t, strings.Contains(str, cfg.EthPrivateKey))
	require.False(t, strings.Contains(str, cfg.SpendingKey))
	require.Equal(t, 2, strings.Count(str, "••••••"))
	require.Contains(t, str, cfg.RollupUrl)

	// The original is untouched.
	require.NotEqual(t, "••••••", cfg.SpendingKey)
}

func TestSupportedType(t *testing.T) {
	require.True(t, supportedDbs.supports("sqlite"))
	require.False(t, supportedDbs.supports(""))
	for _, name := range []string{"badger", "sqlite", "postgres"} {
		require.Contains(t, supportedDbs.String(), name)
	}
}
