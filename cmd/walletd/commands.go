package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/config"
	"github.com/privrollup/walletd/internal/core/application"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	"github.com/privrollup/walletd/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	startCommand = cli.Command{
		Name:   "start",
		Usage:  "Sync rollup blocks until interrupted",
		Action: start,
	}
	statusCommand = cli.Command{
		Name:   "status",
		Usage:  "Show the local world state and the latest rollup",
		Action: status,
	}
	usersCommand = cli.Command{
		Name:  "users",
		Usage: "Manage the users of the wallet",
		Subcommands: cli.Commands{
			{
				Name:   "add",
				Usage:  "Add a user and look for its notes in the synced blocks",
				Flags:  []cli.Flag{viewingKeyFlag, aliasFlag},
				Action: addUser,
			},
			{
				Name:   "list",
				Usage:  "List the users of the wallet",
				Action: listUsers,
			},
			{
				Name:   "remove",
				Usage:  "Remove a user and its notes",
				Flags:  []cli.Flag{userFlag},
				Action: removeUser,
			},
		},
	}
	balanceCommand = cli.Command{
		Name:   "balance",
		Usage:  "Show the spendable balances of a user",
		Flags:  []cli.Flag{userFlag},
		Action: balance,
	}
	notesCommand = cli.Command{
		Name:   "notes",
		Usage:  "List the notes of a user",
		Flags:  []cli.Flag{userFlag},
		Action: notes,
	}
	txsCommand = cli.Command{
		Name:   "txs",
		Usage:  "List the txs of a user",
		Flags:  []cli.Flag{userFlag},
		Action: txs,
	}
	pickCommand = cli.Command{
		Name:   "pick",
		Usage:  "Show the notes that would be spent to pay a value",
		Flags:  []cli.Flag{userFlag, assetFlag, valueFlag, excludePendingFlag},
		Action: pick,
	}
	feesCommand = cli.Command{
		Name:   "fees",
		Usage:  "Show the fee quotes of an asset",
		Flags:  []cli.Flag{assetFlag},
		Action: fees,
	}
	transferCommand = cli.Command{
		Name:  "transfer",
		Usage: "Send a private transfer to another user",
		Flags: []cli.Flag{
			userFlag, recipientFlag, assetFlag, valueFlag, speedFlag, excludePendingFlag, waitFlag,
		},
		Action: transfer,
	}
	withdrawCommand = cli.Command{
		Name:  "withdraw",
		Usage: "Withdraw funds to an L1 address",
		Flags: []cli.Flag{
			userFlag, withdrawAddressFlag, assetFlag, valueFlag, speedFlag, highGasFlag,
			excludePendingFlag, waitFlag,
		},
		Action: withdraw,
	}
	depositCommand = cli.Command{
		Name:   "deposit",
		Usage:  "Deposit L1 funds of the configured eth account to a user",
		Flags:  []cli.Flag{userFlag, assetFlag, valueFlag, speedFlag, waitFlag},
		Action: deposit,
	}
)

func start(c *cli.Context) error {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	log.Debugf("walletd config: %s", cfg)

	if cfg.OtelCollectorEndpoint != "" {
		shutdown, err := telemetry.InitOtelSDK(
			c.Context, cfg.OtelCollectorEndpoint,
			time.Duration(cfg.OtelPushInterval)*time.Second,
		)
		if err != nil {
			return err
		}
		log.RegisterExitHandler(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// nolint
			shutdown(ctx)
		})
	}

	sdk, err := cfg.Sdk()
	if err != nil {
		return fmt.Errorf("failed to create sdk: %s", err)
	}

	log.Info("starting sdk...")
	if err := sdk.Init(c.Context); err != nil {
		return fmt.Errorf("failed to start sdk: %s", err)
	}
	log.Infof("syncing blocks from %s", cfg.RollupUrl)

	log.RegisterExitHandler(sdk.Destroy)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down sdk...")
	log.Exit(0)
	return nil
}

func status(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	status, err := sdk.GetLocalStatus(c.Context)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func addUser(c *cli.Context) error {
	cfg, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	viewingPrivateKey := c.String(viewingKeyFlagName)
	var viewingPublicKey string
	if viewingPrivateKey == "" {
		viewingPublicKey, viewingPrivateKey, err = notecrypto.GenerateViewingKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "generated viewing key: %s\n", viewingPrivateKey)
	} else {
		viewingPublicKey, err = notecrypto.ViewingPublicKey(viewingPrivateKey)
		if err != nil {
			return fmt.Errorf("invalid viewing key: %s", err)
		}
	}

	user := domain.User{
		ViewingPublicKey:  viewingPublicKey,
		ViewingPrivateKey: viewingPrivateKey,
		Alias:             c.String(aliasFlagName),
	}
	if cfg.SpendingKey != "" {
		signer, err := cfg.SpendingSigner()
		if err != nil {
			return err
		}
		user.SpendingPublicKey = signer.PublicKey()
	}

	added, err := sdk.AddUser(c.Context, user)
	if err != nil {
		return err
	}
	return printJSON(userInfo(*added))
}

func listUsers(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	users, err := sdk.GetUsers(c.Context)
	if err != nil {
		return err
	}
	list := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		list = append(list, userInfo(u))
	}
	return printJSON(list)
}

func removeUser(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	return sdk.RemoveUser(c.Context, domain.UserId(c.String(userFlagName)))
}

func balance(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	balances, err := sdk.GetBalances(c.Context, domain.UserId(c.String(userFlagName)))
	if err != nil {
		return err
	}
	return printJSON(balances)
}

func notes(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	notes, err := sdk.GetUserNotes(c.Context, domain.UserId(c.String(userFlagName)))
	if err != nil {
		return err
	}
	return printJSON(notes)
}

func txs(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	txs, err := sdk.GetUserTxs(c.Context, domain.UserId(c.String(userFlagName)))
	if err != nil {
		return err
	}
	return printJSON(txs)
}

func pick(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	value, err := parseValue(c)
	if err != nil {
		return err
	}
	notes, err := sdk.PickNotes(
		c.Context, domain.UserId(c.String(userFlagName)), uint32(c.Uint(assetFlagName)), value,
		application.WithExcludePendingNotes(c.Bool(excludePendingFlagName)),
	)
	if err != nil {
		return err
	}
	return printJSON(notes)
}

func fees(c *cli.Context) error {
	_, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	assetId := uint32(c.Uint(assetFlagName))
	resolver := sdk.Fees()
	deposit, err := resolver.GetDepositFees(c.Context, assetId)
	if err != nil {
		return err
	}
	transfer, err := resolver.GetTransferFees(c.Context, assetId)
	if err != nil {
		return err
	}
	withdraw, err := resolver.GetWithdrawFees(c.Context, assetId)
	if err != nil {
		return err
	}
	withdrawHighGas, err := resolver.GetWithdrawFees(
		c.Context, assetId, application.WithHighGasWithdraw(),
	)
	if err != nil {
		return err
	}
	return printJSON(map[string][]domain.AssetValue{
		"deposit":         deposit,
		"transfer":        transfer,
		"withdraw":        withdraw,
		"withdrawHighGas": withdrawHighGas,
	})
}

func transfer(c *cli.Context) error {
	cfg, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	userId := domain.UserId(c.String(userFlagName))
	assetId := uint32(c.Uint(assetFlagName))
	value, err := parseValue(c)
	if err != nil {
		return err
	}
	feeOpts := []application.FeeOption{application.WithSpender(userId, value)}
	if c.Bool(excludePendingFlagName) {
		feeOpts = append(feeOpts, application.WithFeeExcludePendingNotes())
	}
	quotes, err := sdk.Fees().GetTransferFees(c.Context, assetId, feeOpts...)
	if err != nil {
		return err
	}
	fee, err := pickFee(c, quotes)
	if err != nil {
		return err
	}
	signer, err := cfg.SpendingSigner()
	if err != nil {
		return err
	}

	controller, err := sdk.CreateTransferController(
		c.Context, userId, signer, domain.NewAssetValue(assetId, value), fee,
		domain.UserId(c.String(toFlagName)), controllerOpts(c)...,
	)
	if err != nil {
		return err
	}
	return run(c, controller)
}

func withdraw(c *cli.Context) error {
	cfg, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	userId := domain.UserId(c.String(userFlagName))
	assetId := uint32(c.Uint(assetFlagName))
	value, err := parseValue(c)
	if err != nil {
		return err
	}
	feeOpts := []application.FeeOption{application.WithSpender(userId, value)}
	if c.Bool(highGasFlagName) {
		feeOpts = append(feeOpts, application.WithHighGasWithdraw())
	}
	if c.Bool(excludePendingFlagName) {
		feeOpts = append(feeOpts, application.WithFeeExcludePendingNotes())
	}
	quotes, err := sdk.Fees().GetWithdrawFees(c.Context, assetId, feeOpts...)
	if err != nil {
		return err
	}
	fee, err := pickFee(c, quotes)
	if err != nil {
		return err
	}
	signer, err := cfg.SpendingSigner()
	if err != nil {
		return err
	}

	controller, err := sdk.CreateWithdrawController(
		c.Context, userId, signer, domain.NewAssetValue(assetId, value), fee,
		c.String(toFlagName), controllerOpts(c)...,
	)
	if err != nil {
		return err
	}
	return run(c, controller)
}

func deposit(c *cli.Context) error {
	cfg, sdk, err := getSdk(c)
	if err != nil {
		return err
	}
	defer sdk.Destroy()

	userId := domain.UserId(c.String(userFlagName))
	assetId := uint32(c.Uint(assetFlagName))
	value, err := parseValue(c)
	if err != nil {
		return err
	}
	quotes, err := sdk.Fees().GetDepositFees(c.Context, assetId)
	if err != nil {
		return err
	}
	fee, err := pickFee(c, quotes)
	if err != nil {
		return err
	}
	signer, err := cfg.SpendingSigner()
	if err != nil {
		return err
	}
	ethSigner, err := cfg.EthSigner()
	if err != nil {
		return err
	}

	controller, err := sdk.CreateDepositController(
		c.Context, userId, signer, ethSigner, domain.NewAssetValue(assetId, value), fee,
		ethSigner.Address(), userId,
	)
	if err != nil {
		return err
	}

	wait := c.Duration(waitFlagName)
	pending, err := controller.GetPendingFunds(c.Context)
	if err != nil {
		return err
	}
	if pending.Lt(controller.PublicInput().Value) {
		txHash, err := controller.DepositFundsToContract(c.Context)
		if err != nil {
			return err
		}
		log.Infof("deposited funds to contract in tx %s", txHash)
		if err := controller.AwaitDepositFundsToContract(c.Context, wait); err != nil {
			return err
		}
	}
	if err := controller.CreateProof(c.Context); err != nil {
		return err
	}
	if _, err := controller.Sign(c.Context); err != nil {
		return err
	}
	return run(c, controller)
}

// run sends the proofs of a controller and waits for their settlement.
func run(c *cli.Context, controller application.Controller) error {
	if controller.State() != application.StateProofCreated {
		if err := controller.CreateProof(c.Context); err != nil {
			return err
		}
	}
	txId, err := controller.Send(c.Context)
	if err != nil {
		if txId == "" {
			return err
		}
		log.WithError(err).Warnf("tx %s sent but not recorded locally", txId)
	} else {
		log.Infof("sent tx %s", txId)
	}

	if wait := c.Duration(waitFlagName); wait > 0 {
		if err := controller.AwaitSettlement(c.Context, wait); err != nil {
			return err
		}
	}
	return printJSON(map[string]interface{}{
		"txId":  txId,
		"txIds": controller.TxIds(),
		"state": controller.State(),
	})
}

func getSdk(c *cli.Context) (*config.Config, *application.Sdk, error) {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %s", err)
	}
	sdk, err := cfg.Sdk()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sdk: %s", err)
	}
	return cfg, sdk, nil
}

func controllerOpts(c *cli.Context) []application.ControllerOption {
	if c.Bool(excludePendingFlagName) {
		return []application.ControllerOption{application.WithExcludePending()}
	}
	return nil
}

func parseValue(c *cli.Context) (*uint256.Int, error) {
	value, err := uint256.FromDecimal(c.String(valueFlagName))
	if err != nil {
		return nil, fmt.Errorf("invalid value: %s", err)
	}
	if value.IsZero() {
		return nil, fmt.Errorf("value must be greater than zero")
	}
	return value, nil
}

func pickFee(c *cli.Context, quotes []domain.AssetValue) (domain.AssetValue, error) {
	speed := c.Int(speedFlagName)
	if speed < 0 || speed >= len(quotes) {
		return domain.AssetValue{}, fmt.Errorf(
			"invalid speed %d, must be lower than %d", speed, len(quotes),
		)
	}
	return quotes[speed], nil
}

func userInfo(u domain.User) map[string]interface{} {
	return map[string]interface{}{
		"id":                u.Id,
		"alias":             u.Alias,
		"viewingPublicKey":  u.ViewingPublicKey,
		"spendingPublicKey": u.SpendingPublicKey,
		"syncedToBlock":     u.SyncedToBlock,
	}
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
