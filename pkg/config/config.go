package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Log struct {
		File       string `mapstructure:"FILE"`
		MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
		MaxBackups int    `mapstructure:"MAX_BACKUPS"`
		MaxAgeDays int    `mapstructure:"MAX_AGE_DAYS"`
	} `mapstructure:"LOG"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Airdrop Airdrop `mapstructure:"AIRDROP"`
}

type Airdrop struct {
	Queue                  string        `mapstructure:"QUEUE"`
	Timezone               string        `mapstructure:"TIMEZONE"`
	MaxConsecutiveFailures int           `mapstructure:"MAX_CONSECUTIVE_FAILURES"`
	RuleCacheTTL           time.Duration `mapstructure:"RULE_CACHE_TTL"`
	Twitter                Platform      `mapstructure:"TWITTER"`
	Instagram              Platform      `mapstructure:"INSTAGRAM"`
	Discord                Platform      `mapstructure:"DISCORD"`
}

// Platform holds the credentials and cadence of one social platform.
type Platform struct {
	Enable            bool          `mapstructure:"ENABLE"`
	BaseURL           string        `mapstructure:"BASE_URL"`
	Token             string        `mapstructure:"TOKEN"`
	APIKey            string        `mapstructure:"API_KEY"`
	APIHost           string        `mapstructure:"API_HOST"`
	GuildID           string        `mapstructure:"GUILD_ID"`
	PollCron          string        `mapstructure:"POLL_CRON"`
	RunOnStart        bool          `mapstructure:"RUN_ON_START"`
	PageSize          int           `mapstructure:"PAGE_SIZE"`
	PageDelay         time.Duration `mapstructure:"PAGE_DELAY"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RequestsPerMinute float64       `mapstructure:"REQUESTS_PER_MINUTE"`
	Burst             int           `mapstructure:"BURST"`
	RunTimeout        time.Duration `mapstructure:"RUN_TIMEOUT"`
	Retry             Retry         `mapstructure:"RETRY"`
	Push              Push          `mapstructure:"PUSH"`
}

type Retry struct {
	Attempts          int           `mapstructure:"ATTEMPTS"`
	Delay             time.Duration `mapstructure:"DELAY"`
	RateLimitDelay    time.Duration `mapstructure:"RATE_LIMIT_DELAY"`
	RateLimitAttempts int           `mapstructure:"RATE_LIMIT_ATTEMPTS"`
}

type Push struct {
	Enable         bool   `mapstructure:"ENABLE"`
	GatewayURL     string `mapstructure:"GATEWAY_URL"`
	Intents        int    `mapstructure:"INTENTS"`
	// ReactionMarker is the emoji that counts as a reaction: "name:id" for a
	// custom emoji, the emoji itself or its URL-encoded form for unicode.
	ReactionMarker string `mapstructure:"REACTION_MARKER"`
	WebhookSecret  string `mapstructure:"WEBHOOK_SECRET"`
}

// Polls reports whether the platform is driven by the cron poller.
func (p Platform) Polls() bool {
	return p.Enable && p.PollCron != ""
}

// Platforms returns the platform sections keyed by platform name.
func (a Airdrop) Platforms() map[string]Platform {
	return map[string]Platform{
		"TWITTER":   a.Twitter,
		"INSTAGRAM": a.Instagram,
		"DISCORD":   a.Discord,
	}
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

// ValidationError lists every missing or invalid configuration key.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, ", ")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "airdrop")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("FLAGSMITH.ADDR", "")
	v.SetDefault("FLAGSMITH.API_KEY", "")
	v.SetDefault("LOG.MAX_SIZE_MB", 100)
	v.SetDefault("LOG.MAX_BACKUPS", 7)
	v.SetDefault("LOG.MAX_AGE_DAYS", 28)

	// Keys without a meaningful default are still registered so AutomaticEnv
	// can fill them when there is no config file.
	for _, key := range []string{
		"APP_VERSION",
		"TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH",
		"LOG.FILE",
		"DATABASE.HOST", "DATABASE.PORT", "DATABASE.DBNAME", "DATABASE.USER", "DATABASE.PASSWORD",
		"DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", "DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS",
		"DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", "DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME",
		"REDIS.ADDR", "REDIS.PASSWORD", "REDIS.DB",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("AIRDROP.QUEUE", "airdrop")
	v.SetDefault("AIRDROP.TIMEZONE", "UTC")
	v.SetDefault("AIRDROP.MAX_CONSECUTIVE_FAILURES", 25)
	v.SetDefault("AIRDROP.RULE_CACHE_TTL", time.Minute)

	platforms := map[string]struct {
		baseURL  string
		pageSize int
	}{
		"TWITTER":   {"https://api.twitter.com", 128},
		"INSTAGRAM": {"https://instagram188.p.rapidapi.com", 50},
		"DISCORD":   {"https://discord.com/api/v10", 1000},
	}
	for name, d := range platforms {
		prefix := "AIRDROP." + name + "."
		v.SetDefault(prefix+"ENABLE", false)
		v.SetDefault(prefix+"BASE_URL", d.baseURL)
		v.SetDefault(prefix+"TOKEN", "")
		v.SetDefault(prefix+"API_KEY", "")
		v.SetDefault(prefix+"API_HOST", "")
		v.SetDefault(prefix+"GUILD_ID", "")
		v.SetDefault(prefix+"POLL_CRON", "")
		v.SetDefault(prefix+"RUN_ON_START", false)
		v.SetDefault(prefix+"PAGE_SIZE", d.pageSize)
		v.SetDefault(prefix+"PAGE_DELAY", 2*time.Second)
		v.SetDefault(prefix+"REQUEST_TIMEOUT", 30*time.Second)
		v.SetDefault(prefix+"REQUESTS_PER_MINUTE", 60)
		v.SetDefault(prefix+"BURST", 1)
		v.SetDefault(prefix+"RUN_TIMEOUT", 2*time.Hour)
		v.SetDefault(prefix+"RETRY.ATTEMPTS", 3)
		v.SetDefault(prefix+"RETRY.DELAY", time.Minute)
		v.SetDefault(prefix+"RETRY.RATE_LIMIT_DELAY", 15*time.Minute)
		v.SetDefault(prefix+"RETRY.RATE_LIMIT_ATTEMPTS", 0)
		v.SetDefault(prefix+"PUSH.ENABLE", false)
		v.SetDefault(prefix+"PUSH.GATEWAY_URL", "")
		v.SetDefault(prefix+"PUSH.INTENTS", 0)
		v.SetDefault(prefix+"PUSH.REACTION_MARKER", "")
		v.SetDefault(prefix+"PUSH.WEBHOOK_SECRET", "")
	}
	v.SetDefault("AIRDROP.DISCORD.PUSH.GATEWAY_URL", "wss://gateway.discord.gg/?v=10&encoding=json")
	// GUILDS | GUILD_MEMBERS | GUILD_MESSAGE_REACTIONS
	v.SetDefault("AIRDROP.DISCORD.PUSH.INTENTS", 1|1<<1|1<<10)
}

// Decode applies defaults and unmarshals the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func LoadConfig(p Params) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zap.L().Warn("config.yaml not found, using environment only")
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	if p.Vault != nil {
		if err := overlaySecrets(context.Background(), p.Vault, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overlaySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("read vault secret %q: %w", cfg.AppEnv, err)
	}
	zap.L().Info("Success Get Secret")

	set := func(dst *string, key string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	set(&cfg.Database.User, "postgres_user")
	set(&cfg.Database.Password, "postgres_password")
	set(&cfg.Redis.Password, "redis_password")
	set(&cfg.Flagsmith.ApiKey, "flagsmith_api_key")
	set(&cfg.Airdrop.Twitter.Token, "twitter_bearer_token")
	set(&cfg.Airdrop.Instagram.APIKey, "instagram_rapidapi_key")
	set(&cfg.Airdrop.Discord.Token, "discord_bot_token")
	set(&cfg.Airdrop.Twitter.Push.WebhookSecret, "twitter_webhook_secret")
	set(&cfg.Airdrop.Instagram.Push.WebhookSecret, "instagram_webhook_secret")
	set(&cfg.Airdrop.Discord.Push.WebhookSecret, "discord_webhook_secret")
	return nil
}

// Validate reports every required value that is missing for the enabled platforms.
func (c *Config) Validate() error {
	var missing []string
	require := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	switch c.Database.Type {
	case "postgres", "mysql":
		require(c.Database.Host != "", "DATABASE.HOST")
		require(c.Database.DBNAME != "", "DATABASE.DBNAME")
	case "sqlite":
		require(c.Database.DBNAME != "", "DATABASE.DBNAME")
	default:
		missing = append(missing, "DATABASE.TYPE")
	}
	require(c.Redis.Addr != "", "REDIS.ADDR")

	for name, p := range c.Airdrop.Platforms() {
		if !p.Enable {
			continue
		}
		prefix := "AIRDROP." + name + "."

		require(p.BaseURL != "", prefix+"BASE_URL")
		require(p.PageSize > 0, prefix+"PAGE_SIZE")
		require(p.PageDelay >= 0, prefix+"PAGE_DELAY")
		require(p.RequestTimeout > 0, prefix+"REQUEST_TIMEOUT")
		require(p.RunTimeout > 0, prefix+"RUN_TIMEOUT")
		require(p.Retry.Attempts >= 1, prefix+"RETRY.ATTEMPTS")
		require(p.Retry.Delay >= 0, prefix+"RETRY.DELAY")
		require(p.Retry.RateLimitDelay > 0, prefix+"RETRY.RATE_LIMIT_DELAY")

		switch name {
		case "TWITTER":
			require(p.Token != "", prefix+"TOKEN")
			require(p.PollCron != "", prefix+"POLL_CRON")
		case "INSTAGRAM":
			require(p.APIKey != "", prefix+"API_KEY")
			require(p.APIHost != "", prefix+"API_HOST")
			require(p.PollCron != "", prefix+"POLL_CRON")
		case "DISCORD":
			require(p.Token != "", prefix+"TOKEN")
			require(p.PollCron == "" || p.GuildID != "", prefix+"GUILD_ID")
			if p.Push.Enable {
				require(p.Push.GatewayURL != "", prefix+"PUSH.GATEWAY_URL")
				require(p.Push.ReactionMarker != "", prefix+"PUSH.REACTION_MARKER")
			}
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return &ValidationError{Fields: missing}
	}
	return nil
}
