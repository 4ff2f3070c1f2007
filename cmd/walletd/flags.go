package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

const (
	userFlagName           = "user"
	toFlagName             = "to"
	assetFlagName          = "asset"
	valueFlagName          = "value"
	speedFlagName          = "speed"
	viewingKeyFlagName     = "viewing-key"
	aliasFlagName          = "alias"
	excludePendingFlagName = "exclude-pending"
	highGasFlagName        = "high-gas"
	waitFlagName           = "wait"

	defaultWait = 10 * time.Minute
)

var (
	userFlag = &cli.StringFlag{
		Name:     userFlagName,
		Usage:    "id of the wallet user",
		Required: true,
	}
	recipientFlag = &cli.StringFlag{
		Name:     toFlagName,
		Usage:    "id of the recipient user",
		Required: true,
	}
	withdrawAddressFlag = &cli.StringFlag{
		Name:     toFlagName,
		Usage:    "L1 address receiving the withdrawn funds",
		Required: true,
	}
	assetFlag = &cli.UintFlag{
		Name:  assetFlagName,
		Usage: "id of the asset",
	}
	valueFlag = &cli.StringFlag{
		Name:     valueFlagName,
		Usage:    "amount in the smallest unit of the asset",
		Required: true,
	}
	speedFlag = &cli.IntFlag{
		Name:  speedFlagName,
		Usage: "settlement speed, 0 for the next rollup, 1 for an instant one",
	}
	viewingKeyFlag = &cli.StringFlag{
		Name:  viewingKeyFlagName,
		Usage: "hex viewing private key of the user, a new one is generated if missing",
	}
	aliasFlag = &cli.StringFlag{
		Name:  aliasFlagName,
		Usage: "alias of the user",
	}
	excludePendingFlag = &cli.BoolFlag{
		Name:  excludePendingFlagName,
		Usage: "do not spend notes waiting for settlement",
	}
	highGasFlag = &cli.BoolFlag{
		Name:  highGasFlagName,
		Usage: "withdraw to a contract that needs more gas",
	}
	waitFlag = &cli.DurationFlag{
		Name:  waitFlagName,
		Usage: "how long to wait for settlement, 0 to return once sent",
		Value: defaultWait,
	}
)
