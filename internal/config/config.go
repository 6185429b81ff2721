package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Face    FaceConfig    `yaml:"face"`
	Speech  SpeechConfig  `yaml:"speech"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	History HistoryConfig `yaml:"history"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type AgentConfig struct {
	BaseURL string `yaml:"base_url"`
	// AllowSendFallback keeps the demo operable when the agent endpoint is
	// down: transcripts containing "send" or "transfer" synthesize a
	// default 1.0 transfer. Nil means unset; the default is on. See the
	// dispatcher docs before disabling.
	AllowSendFallback *bool `yaml:"allow_send_fallback"`
}

// SendFallbackEnabled reports the resolved allow_send_fallback setting.
func (a AgentConfig) SendFallbackEnabled() bool {
	return a.AllowSendFallback == nil || *a.AllowSendFallback
}

type BridgeConfig struct {
	BaseURL             string `yaml:"base_url"`
	StatusPollSeconds   int    `yaml:"status_poll_seconds"`
	AffiliateFeePercent string `yaml:"affiliate_fee_percent"`
	AffiliateFeeWallet  string `yaml:"affiliate_fee_wallet"`
}

type FaceConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	DetectorURL    string  `yaml:"detector_url"`
}

type SpeechConfig struct {
	DebounceSeconds int `yaml:"debounce_seconds"`
}

type WalletConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int    `yaml:"chain_id"`
}

type StorageConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	KeyPrefix     string `yaml:"key_prefix"`
	BlobPublisher string `yaml:"blob_publisher"`
	BlobReader    string `yaml:"blob_reader"`
	// ReferenceBlobID points at the bundled reference face set in the blob
	// store; merged under local faces at startup.
	ReferenceBlobID string `yaml:"reference_blob_id"`
}

type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// Default returns a config usable without a YAML file; env vars still apply.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Agent.BaseURL == "" {
		c.Agent.BaseURL = "https://ai-quickstart.onrender.com"
	}
	if c.Agent.AllowSendFallback == nil {
		enabled := true
		c.Agent.AllowSendFallback = &enabled
	}
	if c.Bridge.BaseURL == "" {
		c.Bridge.BaseURL = "https://dln.debridge.finance"
	}
	if c.Bridge.StatusPollSeconds == 0 {
		c.Bridge.StatusPollSeconds = 15
	}
	if c.Face.MatchThreshold == 0 {
		// Library default is 0.6; loosened for recall on consumer cameras.
		c.Face.MatchThreshold = 0.7
	}
	if c.Speech.DebounceSeconds == 0 {
		c.Speech.DebounceSeconds = 3
	}
	if c.Wallet.ChainID == 0 {
		c.Wallet.ChainID = 64165
	}
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = "localhost:6379"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "biowallet:"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BIOWALLET_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("BIOWALLET_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("BIOWALLET_AGENT_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv("BIOWALLET_BRIDGE_URL"); v != "" {
		c.Bridge.BaseURL = v
	}
	if v := os.Getenv("BIOWALLET_DETECTOR_URL"); v != "" {
		c.Face.DetectorURL = v
	}
	if v := os.Getenv("BIOWALLET_RPC_URL"); v != "" {
		c.Wallet.RPCURL = v
	}
	if v := os.Getenv("BIOWALLET_CHAIN_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.Wallet.ChainID = id
		}
	}
	if v := os.Getenv("BIOWALLET_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("BIOWALLET_REDIS_PASSWORD"); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv("BIOWALLET_POSTGRES_DSN"); v != "" {
		c.History.PostgresDSN = v
	}
}

// StatusPollInterval converts the configured poll seconds to a duration.
func (c *Config) StatusPollInterval() time.Duration {
	return time.Duration(c.Bridge.StatusPollSeconds) * time.Second
}

// DebounceInterval converts the configured debounce seconds to a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Speech.DebounceSeconds) * time.Second
}
