package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/privrollup/walletd/internal/core/application"
	"github.com/privrollup/walletd/internal/core/ports"
	inmemorycache "github.com/privrollup/walletd/internal/infrastructure/artifact-cache/inmemory"
	rediscache "github.com/privrollup/walletd/internal/infrastructure/artifact-cache/redis"
	blockpoller "github.com/privrollup/walletd/internal/infrastructure/block-source/poller"
	ethchain "github.com/privrollup/walletd/internal/infrastructure/chain/ethereum"
	"github.com/privrollup/walletd/internal/infrastructure/db"
	watermillbus "github.com/privrollup/walletd/internal/infrastructure/event-bus/watermill"
	inmemorylocker "github.com/privrollup/walletd/internal/infrastructure/locker/inmemory"
	redislocker "github.com/privrollup/walletd/internal/infrastructure/locker/redis"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	devnetprover "github.com/privrollup/walletd/internal/infrastructure/prover/devnet"
	rollupclient "github.com/privrollup/walletd/internal/infrastructure/rollup/http"
	"github.com/privrollup/walletd/internal/infrastructure/signer"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedLockers = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedCaches = supportedType{
		"bigcache": {},
		"redis":    {},
	}
	supportedChains = supportedType{
		"none":     {},
		"ethereum": {},
	}
	supportedProvers = supportedType{
		"devnet": {},
	}
)

type Config struct {
	Datadir  string
	LogLevel int

	DbType        string
	DbDir         string
	DbUrl         string
	LockerType    string
	CacheType     string
	RedisUrl      string
	ProverType    string
	RollupUrl     string
	PollInterval  int64
	FeeSigFigs    int
	FeeCacheTTL   int64
	ChainType     string
	EthRpcUrl     string
	EthPrivateKey string
	Contract      string
	GasLimit      uint64
	SpendingKey   string

	OtelCollectorEndpoint string
	OtelPushInterval      int64

	repo        ports.RepoManager
	rdb         *redis.Client
	locker      ports.Locker
	cache       ports.ArtifactCache
	bus         ports.EventBus
	rollup      ports.RollupProvider
	chain       ports.Chain
	prover      ports.ProofCreator
	blockSource ports.BlockSource
	sdk         *application.Sdk
}

func (c *Config) String() string {
	clone := *c
	if clone.EthPrivateKey != "" {
		clone.EthPrivateKey = "••••••"
	}
	if clone.SpendingKey != "" {
		clone.SpendingKey = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir          = appDataDir("walletd")
	defaultLogLevel         = 4
	defaultDbType           = "badger"
	defaultLockerType       = "inmemory"
	defaultCacheType        = "bigcache"
	defaultChainType        = "none"
	defaultProverType       = "devnet"
	defaultRollupUrl        = "http://127.0.0.1:8081"
	defaultPollInterval     = 10 // seconds
	defaultFeeSigFigs       = 2
	defaultFeeCacheTTL      = 60 // seconds
	defaultGasLimit         = 250000
	defaultOtelPushInterval = 10 // seconds
)

// env returns a list of strings prefixed with `WALLETD_`.
func env(values ...string) []string {
	envs := make([]string, len(values))
	for i, value := range values {
		envs[i] = fmt.Sprintf("WALLETD_%s", value)
	}
	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (badger, sqlite, postgres)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if WALLETD_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	LockerType = &cli.StringFlag{
		Usage: "World state lock type (inmemory, redis), redis to share the db across processes",
		Name:  "locker-type", EnvVars: env("LOCKER_TYPE"),
		Value: defaultLockerType,
	}

	CacheType = &cli.StringFlag{
		Usage: "Proving key cache type (bigcache, redis)",
		Name:  "cache-type", EnvVars: env("CACHE_TYPE"),
		Value: defaultCacheType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis connection url if the locker or the cache type is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	ProverType = &cli.StringFlag{
		Usage: "Proof creator type",
		Name:  "prover-type", EnvVars: env("PROVER_TYPE"),
		Value: defaultProverType,
	}

	RollupUrl = &cli.StringFlag{
		Usage: "Rollup provider url",
		Name:  "rollup-url", EnvVars: env("ROLLUP_URL"),
		Value: defaultRollupUrl,
	}

	// TODO: Make this a cli.DurationFlag.
	PollInterval = &cli.Int64Flag{
		Usage: "Interval in seconds between block polls and settlement checks",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: int64(defaultPollInterval),
	}

	FeeSigFigs = &cli.IntFlag{
		Usage: "Significant figures fees are rounded up to, 0 to disable rounding",
		Name:  "fee-sig-figs", EnvVars: env("FEE_SIG_FIGS"),
		Value: defaultFeeSigFigs,
	}

	FeeCacheTTL = &cli.Int64Flag{
		Usage: "How long in seconds fee schedules are cached",
		Name:  "fee-cache-ttl", EnvVars: env("FEE_CACHE_TTL"),
		Value: int64(defaultFeeCacheTTL),
	}

	ChainType = &cli.StringFlag{
		Usage: "L1 chain type (none, ethereum), required for deposits",
		Name:  "chain-type", EnvVars: env("CHAIN_TYPE"),
		Value: defaultChainType,
	}

	EthRpcUrl = &cli.StringFlag{
		Usage: "Ethereum json-rpc url if WALLETD_CHAIN_TYPE is set to ethereum",
		Name:  "eth-rpc-url", EnvVars: env("ETH_RPC_URL"),
	}

	EthPrivateKey = &cli.StringFlag{
		Usage: "Hex private key of the L1 depositor account",
		Name:  "eth-private-key", EnvVars: env("ETH_PRIVATE_KEY"),
	}

	Contract = &cli.StringFlag{
		Usage: "Address of the rollup processor contract",
		Name:  "rollup-contract", EnvVars: env("ROLLUP_CONTRACT"),
	}

	GasLimit = &cli.Uint64Flag{
		Usage: "Gas limit of L1 txs",
		Name:  "gas-limit", EnvVars: env("GAS_LIMIT"),
		Value: uint64(defaultGasLimit),
	}

	SpendingKey = &cli.StringFlag{
		Usage: "Hex private spending key used to sign proofs",
		Name:  "spending-key", EnvVars: env("SPENDING_KEY"),
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint",
		Name:  "otel-collector-endpoint", EnvVars: env("OTEL_COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.Int64Flag{
		Usage: "OpenTelemetry push interval in seconds",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: int64(defaultOtelPushInterval),
	}
)

var Flags = []cli.Flag{
	Datadir,
	LogLevel,
	DbType,
	DbUrl,
	LockerType,
	CacheType,
	RedisUrl,
	ProverType,
	RollupUrl,
	PollInterval,
	FeeSigFigs,
	FeeCacheTTL,
	ChainType,
	EthRpcUrl,
	EthPrivateKey,
	Contract,
	GasLimit,
	SpendingKey,
	OtelCollectorEndpoint,
	OtelPushInterval,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var redisUrl string
	if c.String(LockerType.Name) == "redis" || c.String(CacheType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("locker or cache type set to 'redis' but redis url is missing")
		}
	}

	cfg := &Config{
		Datadir:               c.String(Datadir.Name),
		LogLevel:              c.Int(LogLevel.Name),
		DbType:                c.String(DbType.Name),
		DbDir:                 dbPath,
		DbUrl:                 dbUrl,
		LockerType:            c.String(LockerType.Name),
		CacheType:             c.String(CacheType.Name),
		RedisUrl:              redisUrl,
		ProverType:            c.String(ProverType.Name),
		RollupUrl:             c.String(RollupUrl.Name),
		PollInterval:          c.Int64(PollInterval.Name),
		FeeSigFigs:            c.Int(FeeSigFigs.Name),
		FeeCacheTTL:           c.Int64(FeeCacheTTL.Name),
		ChainType:             c.String(ChainType.Name),
		EthRpcUrl:             c.String(EthRpcUrl.Name),
		EthPrivateKey:         c.String(EthPrivateKey.Name),
		Contract:              c.String(Contract.Name),
		GasLimit:              c.Uint64(GasLimit.Name),
		SpendingKey:           c.String(SpendingKey.Name),
		OtelCollectorEndpoint: c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:      c.Int64(OtelPushInterval.Name),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedLockers.supports(c.LockerType) {
		return fmt.Errorf(
			"locker type not supported, please select one of: %s", supportedLockers,
		)
	}
	if !supportedCaches.supports(c.CacheType) {
		return fmt.Errorf("cache type not supported, please select one of: %s", supportedCaches)
	}
	if !supportedChains.supports(c.ChainType) {
		return fmt.Errorf("chain type not supported, please select one of: %s", supportedChains)
	}
	if !supportedProvers.supports(c.ProverType) {
		return fmt.Errorf(
			"prover type not supported, please select one of: %s", supportedProvers,
		)
	}
	if c.RollupUrl == "" {
		return fmt.Errorf("missing rollup provider url")
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("invalid poll interval, must be at least 1 second")
	}
	if c.FeeSigFigs < 0 {
		return fmt.Errorf("invalid fee significant figures, must not be negative")
	}
	if c.ChainType == "ethereum" {
		if c.EthRpcUrl == "" {
			return fmt.Errorf("chain type set to 'ethereum' but rpc url is missing")
		}
		if c.Contract == "" {
			return fmt.Errorf("chain type set to 'ethereum' but rollup contract is missing")
		}
		if c.EthPrivateKey == "" {
			return fmt.Errorf("chain type set to 'ethereum' but depositor key is missing")
		}
	}
	if c.LockerType == "inmemory" && c.DbType == "postgres" {
		log.Warn("postgres db shared across processes requires a redis locker")
	}
	return nil
}

// Sdk builds every service the sdk depends on, once.
func (c *Config) Sdk() (*application.Sdk, error) {
	if c.sdk != nil {
		return c.sdk, nil
	}
	if err := c.sdkService(); err != nil {
		return nil, err
	}
	return c.sdk, nil
}

func (c *Config) RepoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		if err := c.repoManager(); err != nil {
			return nil, err
		}
	}
	return c.repo, nil
}

func (c *Config) RollupProvider() (ports.RollupProvider, error) {
	if c.rollup == nil {
		if err := c.rollupService(); err != nil {
			return nil, err
		}
	}
	return c.rollup, nil
}

func (c *Config) SpendingSigner() (ports.Signer, error) {
	if c.SpendingKey == "" {
		return nil, fmt.Errorf("missing spending key")
	}
	return signer.NewSpendingSigner(c.SpendingKey)
}

// EthSigner returns the signer of the L1 depositor account.
func (c *Config) EthSigner() (ports.EthSigner, error) {
	if c.EthPrivateKey == "" {
		return nil, fmt.Errorf("missing eth private key")
	}
	return signer.NewEthSigner(c.EthPrivateKey)
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()
	logger.SetLevel(log.Level(c.LogLevel))

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		if err := makeDirectoryIfNotExists(c.DbDir); err != nil {
			return err
		}
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) redisClient() (*redis.Client, error) {
	if c.rdb != nil {
		return c.rdb, nil
	}
	redisOpts, err := redis.ParseURL(c.RedisUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	c.rdb = redis.NewClient(redisOpts)
	return c.rdb, nil
}

func (c *Config) lockerService() error {
	switch c.LockerType {
	case "inmemory":
		c.locker = inmemorylocker.NewLocker()
	case "redis":
		rdb, err := c.redisClient()
		if err != nil {
			return err
		}
		c.locker = redislocker.NewLocker(rdb, 0, 0)
	default:
		return fmt.Errorf("unknown locker type")
	}
	return nil
}

func (c *Config) cacheService() error {
	switch c.CacheType {
	case "bigcache":
		cache, err := inmemorycache.NewCache(0)
		if err != nil {
			return err
		}
		c.cache = cache
	case "redis":
		rdb, err := c.redisClient()
		if err != nil {
			return err
		}
		c.cache = rediscache.NewCache(rdb, 0)
	default:
		return fmt.Errorf("unknown cache type")
	}
	return nil
}

func (c *Config) rollupService() error {
	rollup, err := rollupclient.NewClient(c.RollupUrl)
	if err != nil {
		return err
	}
	c.rollup = rollup
	return nil
}

func (c *Config) chainService() error {
	if c.ChainType != "ethereum" {
		return nil
	}
	chain, err := ethchain.NewChain(ethchain.Config{
		RpcUrl:          c.EthRpcUrl,
		ContractAddress: c.Contract,
		PrivateKey:      c.EthPrivateKey,
		GasLimit:        c.GasLimit,
	})
	if err != nil {
		return err
	}
	c.chain = chain
	return nil
}

func (c *Config) proverService() error {
	switch c.ProverType {
	case "devnet":
		c.prover = devnetprover.NewProver()
	default:
		return fmt.Errorf("unknown prover type")
	}
	return nil
}

func (c *Config) blockSourceService() error {
	source, err := blockpoller.NewBlockSource(
		c.rollup, blockpoller.WithInterval(c.pollInterval()),
	)
	if err != nil {
		return err
	}
	c.blockSource = source
	return nil
}

func (c *Config) sdkService() error {
	if _, err := c.RepoManager(); err != nil {
		return err
	}
	if _, err := c.RollupProvider(); err != nil {
		return err
	}
	for _, build := range []func() error{
		c.lockerService,
		c.cacheService,
		c.chainService,
		c.proverService,
		c.blockSourceService,
	} {
		if err := build(); err != nil {
			return err
		}
	}
	c.bus = watermillbus.NewEventBus()

	sdk, err := application.NewSdk(
		c.repo, c.prover, c.rollup, c.chain, c.cache, c.locker, c.bus, c.blockSource,
		notecrypto.NewDecryptor(), application.SdkConfig{
			PollInterval: c.pollInterval(),
			FeeSigFigs:   c.FeeSigFigs,
			FeeCacheTTL:  time.Duration(c.FeeCacheTTL) * time.Second,
		},
	)
	if err != nil {
		return err
	}
	c.sdk = sdk
	return nil
}

func (c *Config) pollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return fmt.Sprintf("%s", types)
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
