package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/privrollup/walletd/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const configFileName = "walletd"

// EnvReplacer replaces `-` to `_`.
// This is used to map flag like `--my-param` to environment variables like `MY_PARAM`.
var envReplacer = strings.NewReplacer("-", "_")

func init() {
	viper.SetEnvPrefix("WALLETD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(envReplacer)
}

// loadConfigFile fills the flags not set on the command line nor in the
// environment with the values of walletd.yaml in the datadir, if any.
func loadConfigFile(c *cli.Context) error {
	viper.SetConfigName(configFileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(c.String(config.Datadir.Name))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %s", err)
	}
	log.Debugf("loaded config file %s", viper.ConfigFileUsed())

	for _, flag := range config.Flags {
		name := flag.Names()[0]
		if c.IsSet(name) || !viper.IsSet(name) {
			continue
		}
		if err := c.Set(name, viper.GetString(name)); err != nil {
			return fmt.Errorf("invalid %s in config file: %s", name, err)
		}
	}
	return nil
}
