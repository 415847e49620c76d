package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	BuyModeExact = "exact"
	BuyModeAMAP  = "amap"
)

// Error reports a missing or invalid setting. The process must not start with one.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

type Config struct {
	ChainID uint64 `yaml:"chain_id"`

	RPC struct {
		HTTP           string   `yaml:"http"`
		WS             string   `yaml:"ws"`
		RequestTimeout Duration `yaml:"request_timeout"`
	} `yaml:"rpc"`

	Contracts struct {
		Factory      string `yaml:"factory"`
		TokenManager string `yaml:"token_manager"`
		Helper       string `yaml:"helper"`
	} `yaml:"contracts"`

	Wallet struct {
		PrivateKeyEnv string `yaml:"private_key_env"`
		KeystoreDir   string `yaml:"keystore_dir"`
		Address       string `yaml:"address"`
		PassphraseEnv string `yaml:"passphrase_env"`
	} `yaml:"wallet"`

	Buy struct {
		Mode      string `yaml:"mode"`
		Funds     string `yaml:"funds"`
		MinAmount string `yaml:"min_amount"`
		Amount    string `yaml:"amount"`
		MaxFunds  string `yaml:"max_funds"`
	} `yaml:"buy"`

	Seller struct {
		Cooldown    Duration `yaml:"cooldown"`
		MaxInFlight int      `yaml:"max_in_flight"`
		MinFunds    string   `yaml:"min_funds"`
	} `yaml:"seller"`

	Pipeline struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"pipeline"`

	Listener struct {
		ReconnectAttempts int      `yaml:"reconnect_attempts"`
		ReconnectMaxDelay Duration `yaml:"reconnect_max_delay"`
		CheckpointPath    string   `yaml:"checkpoint_path"`
		MaxResumeBlocks   uint64   `yaml:"max_resume_blocks"`
	} `yaml:"listener"`

	Tx struct {
		ConfirmTimeout      Duration `yaml:"confirm_timeout"`
		ReceiptPollInterval Duration `yaml:"receipt_poll_interval"`
		GasLimitMultiplier  float64  `yaml:"gas_limit_multiplier"`
		MaxFeeMultiplier    float64  `yaml:"max_fee_multiplier"`
		MinPriorityFeeGwei  float64  `yaml:"min_priority_fee_gwei"`
		FeeRefreshSeconds   uint64   `yaml:"fee_refresh_seconds"`
	} `yaml:"tx"`

	Cache struct {
		Approvals int64 `yaml:"approvals"`
	} `yaml:"cache"`

	API struct {
		Listen    string `yaml:"listen"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"api"`

	Output struct {
		JournalPath string `yaml:"journal_path"`
	} `yaml:"output"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads .env (if present), the YAML file at path, and environment overrides.
// An empty path means environment-only configuration.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath is tolerated when missing so an env-only setup works out of the box.
const DefaultPath = "config.yaml"

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.RPC.HTTP, "LAUNCHPILOT_RPC_HTTP")
	set(&c.RPC.WS, "LAUNCHPILOT_RPC_WS")
	set(&c.Contracts.Factory, "LAUNCHPILOT_FACTORY")
	set(&c.Contracts.TokenManager, "LAUNCHPILOT_TOKEN_MANAGER")
	set(&c.Contracts.Helper, "LAUNCHPILOT_HELPER")
	set(&c.Log.Level, "LAUNCHPILOT_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.ChainID == 0 {
		c.ChainID = 56
	}
	if c.RPC.RequestTimeout.Duration == 0 {
		c.RPC.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "LAUNCHPILOT_PRIVATE_KEY"
	}
	if c.Wallet.PassphraseEnv == "" {
		c.Wallet.PassphraseEnv = "LAUNCHPILOT_KEYSTORE_PASSPHRASE"
	}
	if c.Buy.Mode == "" {
		c.Buy.Mode = BuyModeAMAP
	}
	c.Buy.Mode = strings.ToLower(c.Buy.Mode)
	if c.Buy.Mode == BuyModeAMAP && c.Buy.MinAmount == "" {
		c.Buy.MinAmount = "0"
	}
	if c.Seller.Cooldown.Duration == 0 {
		c.Seller.Cooldown = Duration{Duration: 40 * time.Second}
	}
	if c.Seller.MaxInFlight == 0 {
		c.Seller.MaxInFlight = 8
	}
	if c.Seller.MinFunds == "" {
		c.Seller.MinFunds = "0"
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 100
	}
	if c.Listener.ReconnectAttempts == 0 {
		c.Listener.ReconnectAttempts = 10
	}
	if c.Listener.ReconnectMaxDelay.Duration == 0 {
		c.Listener.ReconnectMaxDelay = Duration{Duration: 10 * time.Second}
	}
	if c.Listener.MaxResumeBlocks == 0 {
		c.Listener.MaxResumeBlocks = 100
	}
	if c.Tx.ConfirmTimeout.Duration == 0 {
		c.Tx.ConfirmTimeout = Duration{Duration: 90 * time.Second}
	}
	if c.Tx.ReceiptPollInterval.Duration == 0 {
		c.Tx.ReceiptPollInterval = Duration{Duration: time.Second}
	}
	if c.Tx.GasLimitMultiplier == 0 {
		c.Tx.GasLimitMultiplier = 1.2
	}
	if c.Tx.MaxFeeMultiplier == 0 {
		c.Tx.MaxFeeMultiplier = 2.0
	}
	if c.Tx.FeeRefreshSeconds == 0 {
		c.Tx.FeeRefreshSeconds = 5
	}
	if c.Cache.Approvals == 0 {
		c.Cache.Approvals = 10000
	}
	if c.Output.JournalPath == "" {
		c.Output.JournalPath = "data/journal.jsonl"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.RPC.HTTP == "" {
		return invalid("rpc.http", "is required")
	}
	if c.RPC.WS == "" {
		return invalid("rpc.ws", "is required")
	}
	if err := requireAddress("contracts.factory", c.Contracts.Factory); err != nil {
		return err
	}
	if err := requireAddress("contracts.token_manager", c.Contracts.TokenManager); err != nil {
		return err
	}
	if c.Contracts.Helper != "" && !common.IsHexAddress(c.Contracts.Helper) {
		return invalid("contracts.helper", "invalid address %q", c.Contracts.Helper)
	}
	if c.Wallet.KeystoreDir != "" && !common.IsHexAddress(c.Wallet.Address) {
		return invalid("wallet.address", "is required with wallet.keystore_dir")
	}
	switch c.Buy.Mode {
	case BuyModeExact:
		if c.Buy.Amount == "" || c.Buy.MaxFunds == "" {
			return invalid("buy", "mode %q needs amount and max_funds", BuyModeExact)
		}
	case BuyModeAMAP:
		if c.Buy.Funds == "" {
			return invalid("buy", "mode %q needs funds", BuyModeAMAP)
		}
	default:
		return invalid("buy.mode", "must be %q or %q, got %q", BuyModeExact, BuyModeAMAP, c.Buy.Mode)
	}
	for _, a := range []struct{ field, value string }{
		{"buy.funds", c.Buy.Funds},
		{"buy.max_funds", c.Buy.MaxFunds},
		{"buy.amount", c.Buy.Amount},
		{"buy.min_amount", c.Buy.MinAmount},
		{"seller.min_funds", c.Seller.MinFunds},
	} {
		if err := checkAmount(a.field, a.value); err != nil {
			return err
		}
	}
	if c.Seller.Cooldown.Duration < 0 {
		return invalid("seller.cooldown", "must be >= 0")
	}
	if c.Seller.MaxInFlight < 1 {
		return invalid("seller.max_in_flight", "must be >= 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return invalid("pipeline.queue_size", "must be >= 1")
	}
	if c.Listener.ReconnectAttempts < 1 {
		return invalid("listener.reconnect_attempts", "must be >= 1")
	}
	return nil
}

// checkAmount accepts an empty value or a non-negative decimal. Scaling to
// base units happens at trade time, when token decimals are known.
func checkAmount(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return invalid(field, "invalid amount %q", value)
	}
	if d.IsNegative() {
		return invalid(field, "must be >= 0, got %q", value)
	}
	return nil
}

func requireAddress(field, value string) error {
	if value == "" {
		return invalid(field, "is required")
	}
	if !common.IsHexAddress(value) {
		return invalid(field, "invalid address %q", value)
	}
	return nil
}

func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Contracts.Factory)
}

func (c *Config) TokenManagerAddress() common.Address {
	return common.HexToAddress(c.Contracts.TokenManager)
}

// HelperAddress returns false when no estimate helper is configured.
func (c *Config) HelperAddress() (common.Address, bool) {
	if c.Contracts.Helper == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.Contracts.Helper), true
}
