package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the full set of tunables for the trading engine, loaded
// from an optional config.json and then overridden by environment
// variables, in the same two-stage precedence the teacher used.
type Config struct {
	RPCConfig         RPCConfig         `json:"rpc"`
	ListenerConfig    ListenerConfig    `json:"listener"`
	ThreatConfig      ThreatConfig      `json:"threat"`
	StrategyConfig    StrategyConfig    `json:"strategy"`
	PositionConfig    PositionConfig    `json:"position"`
	CapitalConfig     CapitalConfig     `json:"capital"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig     LoggingConfig     `json:"logging"`
	ServerConfig      ServerConfig      `json:"server"`
	VaultConfig       VaultConfig       `json:"vault"`
	RedisConfig       RedisConfig       `json:"redis"`
	PostgresConfig    PostgresConfig    `json:"postgres"`
}

// RPCConfig describes the multi-provider failover client's endpoint pool.
type RPCConfig struct {
	Endpoints        []RPCEndpointConfig `json:"endpoints"`
	BlockhashTTLMs    int                 `json:"blockhash_ttl_ms"`
	HealthCheckIntervalSec int            `json:"health_check_interval_sec"`
}

// RPCEndpointConfig is one configured provider.
type RPCEndpointConfig struct {
	URL       string `json:"url"`
	MaxWeight int    `json:"max_weight"`
}

// ListenerConfig tunes the fan-in's dedup window and channel sizing.
type ListenerConfig struct {
	DedupCapacity     int `json:"dedup_capacity"`
	DedupWindowSec    int `json:"dedup_window_sec"`
	ChannelBufferSize int `json:"channel_buffer_size"`
	SidecarPollSec    int `json:"sidecar_poll_sec"`
	ListingPollSec    int `json:"listing_poll_sec"`
}

// ThreatConfig tunes the scoring engine's deadline and memoization window.
type ThreatConfig struct {
	DeadlineMs       int  `json:"deadline_ms"`
	MemoizeWindowSec int  `json:"memoize_window_sec"`
	MLEnabled        bool `json:"ml_enabled"`
	SocialEnabled    bool `json:"social_enabled"`
}

// StrategyConfig toggles which strategies run and their shared
// confidence gate.
type StrategyConfig struct {
	SnipeEnabled         bool     `json:"snipe_enabled"`
	MomentumEnabled      bool     `json:"momentum_enabled"`
	ReversalEnabled      bool     `json:"reversal_enabled"`
	WhaleCopyEnabled     bool     `json:"whale_copy_enabled"`
	WhaleCopyWallets     []string `json:"whale_copy_wallets"`
	SocialSignalsEnabled bool     `json:"social_signals_enabled"`
	ConfidenceGate       float64  `json:"confidence_gate"`

	// CapitalAllocation maps a strategy's Name() tag to the fraction of
	// total capital it may have committed at once, mirroring the
	// original Python combinator's capital_allocation/capital_amount model. A
	// tag left out of this map has no per-strategy ceiling of its own.
	CapitalAllocation map[string]float64 `json:"capital_allocation"`
}

// PositionConfig mirrors position.Config, exposed at the config layer
// so operators can tune the exit ladder without a rebuild.
type PositionConfig struct {
	StopLossPct         float64 `json:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	TrailingActivatePct float64 `json:"trailing_activate_pct"`
	TrailingGivebackPct float64 `json:"trailing_giveback_pct"`
	MaxHoldMinutes      int     `json:"max_hold_minutes"`
	MaxExitRetries      int     `json:"max_exit_retries"`
	SessionBlacklistHours int   `json:"session_blacklist_hours"`
	OpenConfirmDeadlineSec int  `json:"open_confirm_deadline_sec"`
}

// CapitalConfig bounds the shared capital pool and per-mint/portfolio ceilings.
type CapitalConfig struct {
	TotalCapitalBase   float64 `json:"total_capital_base"`
	MaxPerMintBase     float64 `json:"max_per_mint_base"`
	MaxPortfolioBase   float64 `json:"max_portfolio_base"`
}

// LoggingConfig controls the structured logger, unchanged from the
// ambient logging stack every package in this engine shares.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// NotificationConfig controls outbound operator alerting.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig holds the Control API's HTTP server configuration.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// VaultConfig holds HashiCorp Vault configuration for the signing wallet.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
	MaxSignaturesPerSecond int `json:"max_signatures_per_second"`
}

// RedisConfig backs the dedup LRU, blockhash cache, and session
// blacklist when Redis mirroring is enabled.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// PostgresConfig backs creator reputation and trade history persistence.
type PostgresConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// Load reads config.json if present, then applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.RPCConfig.BlockhashTTLMs = getEnvIntOrDefault("RPC_BLOCKHASH_TTL_MS", cfg.RPCConfig.BlockhashTTLMs)
	if cfg.RPCConfig.BlockhashTTLMs == 0 {
		cfg.RPCConfig.BlockhashTTLMs = 400
	}
	cfg.RPCConfig.HealthCheckIntervalSec = getEnvIntOrDefault("RPC_HEALTH_CHECK_INTERVAL_SEC", orDefault(cfg.RPCConfig.HealthCheckIntervalSec, 30))
	if len(cfg.RPCConfig.Endpoints) == 0 {
		if url := os.Getenv("RPC_PRIMARY_URL"); url != "" {
			cfg.RPCConfig.Endpoints = append(cfg.RPCConfig.Endpoints, RPCEndpointConfig{URL: url, MaxWeight: 100})
		}
	}

	cfg.ListenerConfig.DedupCapacity = getEnvIntOrDefault("LISTENER_DEDUP_CAPACITY", orDefault(cfg.ListenerConfig.DedupCapacity, 50000))
	cfg.ListenerConfig.DedupWindowSec = getEnvIntOrDefault("LISTENER_DEDUP_WINDOW_SEC", orDefault(cfg.ListenerConfig.DedupWindowSec, 60))
	cfg.ListenerConfig.ChannelBufferSize = getEnvIntOrDefault("LISTENER_CHANNEL_BUFFER_SIZE", orDefault(cfg.ListenerConfig.ChannelBufferSize, 1024))
	cfg.ListenerConfig.SidecarPollSec = getEnvIntOrDefault("LISTENER_SIDECAR_POLL_SEC", orDefault(cfg.ListenerConfig.SidecarPollSec, 5))
	cfg.ListenerConfig.ListingPollSec = getEnvIntOrDefault("LISTENER_LISTING_POLL_SEC", orDefault(cfg.ListenerConfig.ListingPollSec, 10))

	cfg.ThreatConfig.DeadlineMs = getEnvIntOrDefault("THREAT_DEADLINE_MS", orDefault(cfg.ThreatConfig.DeadlineMs, 1500))
	cfg.ThreatConfig.MemoizeWindowSec = getEnvIntOrDefault("THREAT_MEMOIZE_WINDOW_SEC", orDefault(cfg.ThreatConfig.MemoizeWindowSec, 60))
	cfg.ThreatConfig.MLEnabled = getEnvOrDefault("THREAT_ML_ENABLED", "true") == "true"
	cfg.ThreatConfig.SocialEnabled = getEnvOrDefault("THREAT_SOCIAL_ENABLED", "true") == "true"

	cfg.StrategyConfig.SnipeEnabled = getEnvOrDefault("STRATEGY_SNIPE_ENABLED", "true") == "true"
	cfg.StrategyConfig.MomentumEnabled = getEnvOrDefault("STRATEGY_MOMENTUM_ENABLED", "true") == "true"
	cfg.StrategyConfig.ReversalEnabled = getEnvOrDefault("STRATEGY_REVERSAL_ENABLED", "true") == "true"
	cfg.StrategyConfig.WhaleCopyEnabled = getEnvOrDefault("STRATEGY_WHALE_COPY_ENABLED", "false") == "true"
	cfg.StrategyConfig.SocialSignalsEnabled = getEnvOrDefault("STRATEGY_SOCIAL_ENABLED", "false") == "true"
	cfg.StrategyConfig.ConfidenceGate = getEnvFloatOrDefault("STRATEGY_CONFIDENCE_GATE", orDefaultF(cfg.StrategyConfig.ConfidenceGate, 0.7))

	cfg.PositionConfig.StopLossPct = getEnvFloatOrDefault("POSITION_STOP_LOSS_PCT", orDefaultF(cfg.PositionConfig.StopLossPct, 0.15))
	cfg.PositionConfig.TakeProfitPct = getEnvFloatOrDefault("POSITION_TAKE_PROFIT_PCT", orDefaultF(cfg.PositionConfig.TakeProfitPct, 0.5))
	cfg.PositionConfig.TrailingActivatePct = getEnvFloatOrDefault("POSITION_TRAILING_ACTIVATE_PCT", orDefaultF(cfg.PositionConfig.TrailingActivatePct, 0.2))
	cfg.PositionConfig.TrailingGivebackPct = getEnvFloatOrDefault("POSITION_TRAILING_GIVEBACK_PCT", orDefaultF(cfg.PositionConfig.TrailingGivebackPct, 0.1))
	cfg.PositionConfig.MaxHoldMinutes = getEnvIntOrDefault("POSITION_MAX_HOLD_MINUTES", orDefault(cfg.PositionConfig.MaxHoldMinutes, 240))
	cfg.PositionConfig.MaxExitRetries = getEnvIntOrDefault("POSITION_MAX_EXIT_RETRIES", orDefault(cfg.PositionConfig.MaxExitRetries, 3))
	cfg.PositionConfig.SessionBlacklistHours = getEnvIntOrDefault("POSITION_SESSION_BLACKLIST_HOURS", orDefault(cfg.PositionConfig.SessionBlacklistHours, 1))
	cfg.PositionConfig.OpenConfirmDeadlineSec = getEnvIntOrDefault("POSITION_OPEN_CONFIRM_DEADLINE_SEC", orDefault(cfg.PositionConfig.OpenConfirmDeadlineSec, 8))

	cfg.CapitalConfig.TotalCapitalBase = getEnvFloatOrDefault("CAPITAL_TOTAL_BASE", cfg.CapitalConfig.TotalCapitalBase)
	cfg.CapitalConfig.MaxPerMintBase = getEnvFloatOrDefault("CAPITAL_MAX_PER_MINT_BASE", cfg.CapitalConfig.MaxPerMintBase)
	cfg.CapitalConfig.MaxPortfolioBase = getEnvFloatOrDefault("CAPITAL_MAX_PORTFOLIO_BASE", cfg.CapitalConfig.MaxPortfolioBase)

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.ServerConfig.Port = getEnvIntOrDefault("CONTROL_API_PORT", orDefault(cfg.ServerConfig.Port, 8088))
	cfg.ServerConfig.Host = getEnvOrDefault("CONTROL_API_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("CONTROL_API_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("CONTROL_API_READ_TIMEOUT", orDefault(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("CONTROL_API_WRITE_TIMEOUT", orDefault(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("CONTROL_API_SHUTDOWN_TIMEOUT", orDefault(cfg.ServerConfig.ShutdownTimeout, 10))

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/tokensentinel/signing-key")
	cfg.VaultConfig.MaxSignaturesPerSecond = getEnvIntOrDefault("VAULT_MAX_SIGNATURES_PER_SECOND", orDefault(cfg.VaultConfig.MaxSignaturesPerSecond, 20))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefault(cfg.RedisConfig.PoolSize, 10))

	cfg.PostgresConfig.Enabled = getEnvOrDefault("POSTGRES_ENABLED", "false") == "true"
	cfg.PostgresConfig.DSN = getEnvOrDefault("POSTGRES_DSN", cfg.PostgresConfig.DSN)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func orDefaultF(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

// GenerateSampleConfig writes a representative config.json, mirroring
// the teacher's own sample-config generator.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		RPCConfig: RPCConfig{
			Endpoints: []RPCEndpointConfig{
				{URL: "https://rpc-primary.example.com", MaxWeight: 100},
				{URL: "https://rpc-secondary.example.com", MaxWeight: 100},
			},
			BlockhashTTLMs: 400,
			HealthCheckIntervalSec: 30,
		},
		ListenerConfig: ListenerConfig{
			DedupCapacity:     50000,
			DedupWindowSec:    60,
			ChannelBufferSize: 1024,
			SidecarPollSec:    5,
			ListingPollSec:    10,
		},
		ThreatConfig: ThreatConfig{
			DeadlineMs:       1500,
			MemoizeWindowSec: 60,
			MLEnabled:        true,
			SocialEnabled:    true,
		},
		StrategyConfig: StrategyConfig{
			SnipeEnabled:    true,
			MomentumEnabled: true,
			ReversalEnabled: true,
			ConfidenceGate:  0.7,
			CapitalAllocation: map[string]float64{
				"snipe":          0.3,
				"momentum":       0.3,
				"reversal":       0.2,
				"whale_copy":     0.1,
				"social_signals": 0.1,
			},
		},
		PositionConfig: PositionConfig{
			StopLossPct:           0.15,
			TakeProfitPct:         0.5,
			TrailingActivatePct:   0.2,
			TrailingGivebackPct:   0.1,
			MaxHoldMinutes:        240,
			MaxExitRetries:        3,
			SessionBlacklistHours: 1,
			OpenConfirmDeadlineSec: 8,
		},
		CapitalConfig: CapitalConfig{
			TotalCapitalBase: 10.0,
			MaxPerMintBase:   0.5,
			MaxPortfolioBase: 5.0,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
