package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Eth       EthConfig       `mapstructure:"eth"`
	Roles     RolesConfig     `mapstructure:"roles"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Keystore  KeystoreConfig  `mapstructure:"keystore"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Treasury  TreasuryConfig  `mapstructure:"treasury"`
	Assets    []AssetConfig   `mapstructure:"assets"`
	Remotes   []RemoteConfig  `mapstructure:"remotes"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type EthConfig struct {
	RPC       string          `mapstructure:"rpc"`
	TestToken string          `mapstructure:"test_token"`
	ChainID   int64           `mapstructure:"chain_id"`
	Mailboxes []MailboxConfig `mapstructure:"mailboxes"`
	// MinBalance, in ETH, below which serve warns that the relayer cannot
	// pay for messages.
	MinBalance string `mapstructure:"min_balance"`
}

// Endpoint is the RPC url with the provider token appended.
func (e EthConfig) Endpoint() string {
	return e.RPC + e.TestToken
}

type MailboxConfig struct {
	Domain  uint32 `mapstructure:"domain"`
	Address string `mapstructure:"address"`
}

type RolesConfig struct {
	Owner     string `mapstructure:"owner"`
	Bridge    string `mapstructure:"bridge"`
	Confirmer string `mapstructure:"confirmer"`
	Keeper    string `mapstructure:"keeper"`
}

type VaultConfig struct {
	Address         string        `mapstructure:"address"`
	HarvestInterval time.Duration `mapstructure:"harvest_interval"`
	ReportDomain    uint32        `mapstructure:"report_domain"`
	ReportGasLimit  uint64        `mapstructure:"report_gas_limit"`
	// RollbackPolicy is "confirmation" or "issuance".
	RollbackPolicy string `mapstructure:"rollback_policy"`
}

type KeystoreConfig struct {
	Label      string `mapstructure:"label"`
	Passphrase string `mapstructure:"passphrase"`
	Path       string `mapstructure:"path"`
	Iterations int    `mapstructure:"iterations"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TreasuryConfig seeds the in-process custody ledger at startup.
type TreasuryConfig struct {
	Balances   []BalanceConfig   `mapstructure:"balances"`
	Allowances []AllowanceConfig `mapstructure:"allowances"`
}

type BalanceConfig struct {
	Asset  string `mapstructure:"asset"`
	Holder string `mapstructure:"holder"`
	Amount string `mapstructure:"amount"`
}

// AllowanceConfig grants Spender an allowance over Owner's balance. Amount
// "max" is the largest uint256.
type AllowanceConfig struct {
	Asset   string `mapstructure:"asset"`
	Owner   string `mapstructure:"owner"`
	Spender string `mapstructure:"spender"`
	Amount  string `mapstructure:"amount"`
}

type AssetConfig struct {
	Address      string           `mapstructure:"address"`
	ReserveRatio uint64           `mapstructure:"reserve_ratio"`
	Strategies   []StrategyConfig `mapstructure:"strategies"`
}

// StrategyConfig registers one adapter. Kind is "lending", "autocompound" or
// "remote"; remote strategies refer to a RemoteConfig by Protocol.
type StrategyConfig struct {
	Kind     string `mapstructure:"kind"`
	Address  string `mapstructure:"address"`
	Protocol string `mapstructure:"protocol"`
	Weight   uint64 `mapstructure:"weight"`
	APY      uint64 `mapstructure:"apy"`
}

type RemoteConfig struct {
	ProtocolID string `mapstructure:"protocol_id"`
	Asset      string `mapstructure:"asset"`
	Escrow     string `mapstructure:"escrow"`
	Recipient  string `mapstructure:"recipient"`
	Domain     uint32 `mapstructure:"domain"`
	GasLimit   uint64 `mapstructure:"gas_limit"`
	// Rate is the initial exchange rate, units per share.
	Rate string `mapstructure:"rate"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.port", "8080")
	v.SetDefault("mongo.database", "vault_service")
	v.SetDefault("vault.harvest_interval", "24h")
	v.SetDefault("vault.report_gas_limit", 200_000)
	v.SetDefault("vault.rollback_policy", "confirmation")
	v.SetDefault("keystore.label", "relayer")
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("log.level", "info")

	// env overrides yaml, e.g. KEYSTORE_PASSPHRASE
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every configured address is well-formed.
func (c *Config) Validate() error {
	addrs := map[string]string{
		"vault.address":   c.Vault.Address,
		"roles.owner":     c.Roles.Owner,
		"roles.bridge":    c.Roles.Bridge,
		"roles.confirmer": c.Roles.Confirmer,
		"roles.keeper":    c.Roles.Keeper,
	}
	for i, m := range c.Eth.Mailboxes {
		addrs[fmt.Sprintf("eth.mailboxes[%d].address", i)] = m.Address
	}
	for i, a := range c.Assets {
		addrs[fmt.Sprintf("assets[%d].address", i)] = a.Address
		for j, s := range a.Strategies {
			if s.Kind != "remote" {
				addrs[fmt.Sprintf("assets[%d].strategies[%d].address", i, j)] = s.Address
			}
		}
	}
	for i, r := range c.Remotes {
		addrs[fmt.Sprintf("remotes[%d].asset", i)] = r.Asset
		addrs[fmt.Sprintf("remotes[%d].escrow", i)] = r.Escrow
		addrs[fmt.Sprintf("remotes[%d].recipient", i)] = r.Recipient
	}
	for i, b := range c.Treasury.Balances {
		addrs[fmt.Sprintf("treasury.balances[%d].asset", i)] = b.Asset
		addrs[fmt.Sprintf("treasury.balances[%d].holder", i)] = b.Holder
	}
	for i, a := range c.Treasury.Allowances {
		addrs[fmt.Sprintf("treasury.allowances[%d].asset", i)] = a.Asset
		addrs[fmt.Sprintf("treasury.allowances[%d].owner", i)] = a.Owner
		addrs[fmt.Sprintf("treasury.allowances[%d].spender", i)] = a.Spender
	}
	for key, val := range addrs {
		if val != "" && !common.IsHexAddress(val) {
			return fmt.Errorf("config: %s is not an address: %q", key, val)
		}
	}
	switch c.Vault.RollbackPolicy {
	case "confirmation", "issuance":
	default:
		return fmt.Errorf("config: unknown vault.rollback_policy %q", c.Vault.RollbackPolicy)
	}
	return nil
}
