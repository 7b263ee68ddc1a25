// Package config loads the factgate configuration from environment variables
// and an optional config.yaml, and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Facilitator FacilitatorConfig `yaml:"facilitator" mapstructure:"facilitator"`
	Payment     PaymentConfig     `yaml:"payment" mapstructure:"payment"`
	Chain       ChainConfig       `yaml:"chain" mapstructure:"chain"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Signing     SigningConfig     `yaml:"signing" mapstructure:"signing"`
	Upstream    UpstreamConfig    `yaml:"upstream" mapstructure:"upstream"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// FacilitatorConfig holds the payment facilitator endpoint and credentials.
// SecretKey and ServerWallet are required before any settle call is made;
// they are validated lazily by the settlement gateway, not at startup, so
// offline commands (build-cache, list-facts) run without them.
type FacilitatorConfig struct {
	URL          string `yaml:"url" mapstructure:"url"`
	SecretKey    string `yaml:"secret_key" mapstructure:"secret_key"`
	ServerWallet string `yaml:"server_wallet" mapstructure:"server_wallet"`
}

// PaymentConfig configures the per-fact micropayment.
type PaymentConfig struct {
	MerchantWallet string `yaml:"merchant_wallet" mapstructure:"merchant_wallet"`
	Network        string `yaml:"network" mapstructure:"network"`
	ChainID        int64  `yaml:"chain_id" mapstructure:"chain_id"`
	FactPrice      string `yaml:"fact_price" mapstructure:"fact_price"`
	AllowUnpaid    bool   `yaml:"allow_unpaid" mapstructure:"allow_unpaid"`
}

// ChainConfig configures the attestation oracle read path.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url" mapstructure:"rpc_url"`
	OracleAddress string `yaml:"oracle_address" mapstructure:"oracle_address"`
}

// CacheConfig locates the fact corpus snapshot.
type CacheConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SigningConfig holds the optional bundle signing key. An empty key is a
// valid state: responses simply go out unsigned.
type SigningConfig struct {
	PrivateKey string `yaml:"private_key" mapstructure:"private_key"`
}

// UpstreamConfig configures the monetized feed proxies.
type UpstreamConfig struct {
	FeedURL   string `yaml:"feed_url" mapstructure:"feed_url"`
	PMURL     string `yaml:"pm_url" mapstructure:"pm_url"`
	FeedPrice string `yaml:"feed_price" mapstructure:"feed_price"`
	PMPrice   string `yaml:"pm_price" mapstructure:"pm_price"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MissingError reports required settings that are absent. The settlement
// gateway surfaces it as a 500 with the list of missing keys.
type MissingError struct {
	Missing []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required settings: %s", strings.Join(e.Missing, ", "))
}

// Avalanche Fuji testnet defaults; every value can be overridden via
// FACTGATE_* environment variables or config.yaml.
const (
	DefaultNetwork       = "avalanche-fuji"
	DefaultChainID       = 43113
	DefaultRPCURL        = "https://api.avax-test.network/ext/bc/C/rpc"
	DefaultOracleAddress = "0xA17b8A538286f0415e0a5166440f0E452BF35968"
)

// Load reads configuration from config.yaml (optional) and FACTGATE_*
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FACTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("facilitator.url", "https://x402.org/facilitator")
	// Secrets default to empty so AutomaticEnv can populate them on Unmarshal.
	v.SetDefault("facilitator.secret_key", "")
	v.SetDefault("facilitator.server_wallet", "")
	v.SetDefault("payment.merchant_wallet", "")
	v.SetDefault("signing.private_key", "")
	v.SetDefault("payment.network", DefaultNetwork)
	v.SetDefault("payment.chain_id", DefaultChainID)
	v.SetDefault("payment.fact_price", "250000")
	v.SetDefault("payment.allow_unpaid", false)
	v.SetDefault("chain.rpc_url", DefaultRPCURL)
	v.SetDefault("chain.oracle_address", DefaultOracleAddress)
	v.SetDefault("cache.path", "data/facts_cache.json")
	v.SetDefault("upstream.feed_url", "https://sabaki.ai/feed")
	v.SetDefault("upstream.pm_url", "https://sabaki.ai/pm")
	v.SetDefault("upstream.feed_price", "10000")
	v.SetDefault("upstream.pm_price", "150000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// SettlementMissing returns the facilitator/merchant settings that must be
// present before a payment can be settled.
func (c *Config) SettlementMissing() []string {
	var missing []string
	if c.Facilitator.SecretKey == "" {
		missing = append(missing, "FACTGATE_FACILITATOR_SECRET_KEY")
	}
	if c.Facilitator.ServerWallet == "" {
		missing = append(missing, "FACTGATE_FACILITATOR_SERVER_WALLET")
	}
	if c.Payment.MerchantWallet == "" {
		missing = append(missing, "FACTGATE_PAYMENT_MERCHANT_WALLET")
	}
	return missing
}

// InitLogger builds the global zap logger from the log config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
