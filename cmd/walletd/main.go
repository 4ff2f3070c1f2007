package main

import (
	"fmt"
	"os"

	"github.com/privrollup/walletd/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "walletd"
	app.Usage = "privacy rollup wallet daemon and command line interface"
	app.Flags = config.Flags
	app.Commands = append(
		app.Commands,
		&startCommand,
		&statusCommand,
		&usersCommand,
		&balanceCommand,
		&notesCommand,
		&txsCommand,
		&pickCommand,
		&feesCommand,
		&transferCommand,
		&withdrawCommand,
		&depositCommand,
	)
	app.Before = func(c *cli.Context) error {
		if err := loadConfigFile(c); err != nil {
			return err
		}
		log.SetLevel(log.Level(c.Int(config.LogLevel.Name)))
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}
