package config

import (
	"strings"
	"time"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultListenAddr = ":8080"
	defaultRPCTimeout = 10 * time.Second
	// defaultDecimals is assumed for currencies without a configured decimals
	// entry. All major EVM gas assets use 18.
	defaultDecimals = 18
)

// ChainConfig holds the per-chain static configuration consumed by the
// engine: RPC endpoints, fee model, block time and the symbol-keyed token
// contract table.
type ChainConfig struct {
	Name      string            `mapstructure:"name"`
	ChainID   uint64            `mapstructure:"chainId"`
	RPCURLs   []string          `mapstructure:"rpcUrls"`
	FeeModel  string            `mapstructure:"feeModel"`
	BlockTime int64             `mapstructure:"blockTime"`
	Tokens    map[string]string `mapstructure:"tokens"`
}

// PriceFeedConfig holds the price feed provider settings and the asset
// identifier table (lowercased contract address -> provider coin id).
type PriceFeedConfig struct {
	Provider string            `mapstructure:"provider"`
	BaseURL  string            `mapstructure:"baseUrl"`
	APIKey   string            `mapstructure:"apiKey"`
	CoinIDs  map[string]string `mapstructure:"coinIds"`
}

// Config holds the full rebalancer configuration. Missing required values are
// a fatal startup error, never a per-request error.
type Config struct {
	ListenAddr       string                 `mapstructure:"listenAddr"`
	DatabaseURL      string                 `mapstructure:"databaseUrl"`
	PrivateKey       string                 `mapstructure:"privateKey"`
	Markup           string                 `mapstructure:"markup"`
	NetFeeFromOutput bool                   `mapstructure:"netFeeFromOutput"`
	RPCTimeout       time.Duration          `mapstructure:"rpcTimeout"`
	PriceFeed        PriceFeedConfig        `mapstructure:"priceFeed"`
	Chains           map[string]ChainConfig `mapstructure:"chains"`
	Decimals         map[string]int32       `mapstructure:"decimals"`

	chainsByID map[uint64]ChainConfig
}

// Load reads configuration from a YAML file and REBALANCER_* environment
// variables and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rebalancer")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rebalancer")
	}

	v.SetDefault("listenAddr", defaultListenAddr)
	v.SetDefault("rpcTimeout", defaultRPCTimeout)
	v.SetDefault("priceFeed.provider", "coingecko")

	v.SetEnvPrefix("REBALANCER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.chainsByID = make(map[uint64]ChainConfig, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		cfg.chainsByID[chain.ChainID] = chain
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "no chains configured")
	}
	for name, chain := range c.Chains {
		if chain.ChainID == 0 {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %s: missing chain id", name)
		}
		if len(chain.RPCURLs) == 0 {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %s: no rpc urls", name)
		}
		if chain.BlockTime <= 0 {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %s: missing block time", name)
		}
		if types.ParseFeeModel(chain.FeeModel) == types.FeeModelUnknown {
			return errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %s: unknown fee model %q", name, chain.FeeModel)
		}
	}
	if c.RPCTimeout <= 0 {
		return errors.Wrapf(commonerrors.ErrInvalidConfig, "non-positive rpc timeout %s", c.RPCTimeout)
	}
	if c.PrivateKey == "" {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "missing signing private key")
	}
	if c.DatabaseURL == "" {
		return errors.Wrap(commonerrors.ErrInvalidConfig, "missing database url")
	}
	return nil
}

// Chain returns the configuration for a chain ID.
func (c *Config) Chain(chainID uint64) (ChainConfig, bool) {
	chain, ok := c.chainsByID[chainID]
	return chain, ok
}

// RPCEndpoints returns the chain ID -> RPC URL list mapping.
func (c *Config) RPCEndpoints() map[uint64][]string {
	endpoints := make(map[uint64][]string, len(c.chainsByID))
	for id, chain := range c.chainsByID {
		endpoints[id] = chain.RPCURLs
	}
	return endpoints
}

// FeeModels returns the chain ID -> fee model mapping.
func (c *Config) FeeModels() map[uint64]types.FeeModel {
	models := make(map[uint64]types.FeeModel, len(c.chainsByID))
	for id, chain := range c.chainsByID {
		models[id] = types.ParseFeeModel(chain.FeeModel)
	}
	return models
}

// BlockTimes returns the chain ID -> block time (seconds) mapping.
func (c *Config) BlockTimes() map[uint64]int64 {
	times := make(map[uint64]int64, len(c.chainsByID))
	for id, chain := range c.chainsByID {
		times[id] = chain.BlockTime
	}
	return times
}

// TokenTable returns the chain ID -> symbol -> token contract address table.
// Symbols are normalized to upper case; viper lowercases map keys on
// unmarshal.
func (c *Config) TokenTable() map[uint64]map[string]string {
	table := make(map[uint64]map[string]string, len(c.chainsByID))
	for id, chain := range c.chainsByID {
		symbols := make(map[string]string, len(chain.Tokens))
		for symbol, address := range chain.Tokens {
			symbols[strings.ToUpper(symbol)] = address
		}
		table[id] = symbols
	}
	return table
}

// MarkupFraction parses the configured fee markup. An unset or invalid markup
// is treated as zero, never a hard failure.
func (c *Config) MarkupFraction() decimal.Decimal {
	if c.Markup == "" {
		return decimal.Zero
	}
	markup, err := decimal.NewFromString(c.Markup)
	if err != nil || markup.IsNegative() {
		return decimal.Zero
	}
	return markup
}

// CurrencyDecimals returns the configured decimals for a currency, falling
// back to 18.
func (c *Config) CurrencyDecimals(currency string) int32 {
	if d, ok := c.Decimals[strings.ToLower(currency)]; ok {
		return d
	}
	return defaultDecimals
}
