package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func baseViper() *viper.Viper {
	v := viper.New()
	v.Set("DATABASE.TYPE", "sqlite")
	v.Set("DATABASE.DBNAME", "airdrop.db")
	v.Set("REDIS.ADDR", "localhost:6379")
	return v
}

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(baseViper())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	tw := cfg.Airdrop.Twitter
	require.False(t, tw.Enable)
	require.Equal(t, "https://api.twitter.com", tw.BaseURL)
	require.Equal(t, 128, tw.PageSize)
	require.Equal(t, 3, tw.Retry.Attempts)
	require.Equal(t, time.Minute, tw.Retry.Delay)
	require.Equal(t, 15*time.Minute, tw.Retry.RateLimitDelay)
	require.Equal(t, 50, cfg.Airdrop.Instagram.PageSize)
	require.Equal(t, 25, cfg.Airdrop.MaxConsecutiveFailures)
}

func TestValidate_MissingCredentials(t *testing.T) {
	v := baseViper()
	v.Set("AIRDROP.TWITTER.ENABLE", true)
	v.Set("AIRDROP.INSTAGRAM.ENABLE", true)
	v.Set("AIRDROP.INSTAGRAM.POLL_CRON", "@every 6h")

	cfg, err := Decode(v)
	require.NoError(t, err)

	err = cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{
		"AIRDROP.INSTAGRAM.API_HOST",
		"AIRDROP.INSTAGRAM.API_KEY",
		"AIRDROP.TWITTER.POLL_CRON",
		"AIRDROP.TWITTER.TOKEN",
	}, verr.Fields)
}

func TestValidate_EnabledPlatform(t *testing.T) {
	v := baseViper()
	v.Set("AIRDROP.TWITTER.ENABLE", true)
	v.Set("AIRDROP.TWITTER.TOKEN", "bearer")
	v.Set("AIRDROP.TWITTER.POLL_CRON", "0 */6 * * *")
	v.Set("AIRDROP.TWITTER.RETRY.DELAY", "30s")

	cfg, err := Decode(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.Airdrop.Twitter.Polls())
	require.Equal(t, 30*time.Second, cfg.Airdrop.Twitter.Retry.Delay)
	require.False(t, cfg.Airdrop.Discord.Polls())
}

func TestValidate_DiscordPush(t *testing.T) {
	v := baseViper()
	v.Set("AIRDROP.DISCORD.ENABLE", true)
	v.Set("AIRDROP.DISCORD.TOKEN", "bot")
	v.Set("AIRDROP.DISCORD.PUSH.ENABLE", true)

	cfg, err := Decode(v)
	require.NoError(t, err)

	var verr *ValidationError
	require.ErrorAs(t, cfg.Validate(), &verr)
	require.Equal(t, []string{"AIRDROP.DISCORD.PUSH.REACTION_MARKER"}, verr.Fields)
}

func TestValidate_UnknownDatabase(t *testing.T) {
	v := baseViper()
	v.Set("DATABASE.TYPE", "oracle")

	cfg, err := Decode(v)
	require.NoError(t, err)

	var verr *ValidationError
	require.ErrorAs(t, cfg.Validate(), &verr)
	require.Contains(t, verr.Fields, "DATABASE.TYPE")
}

func TestLoadConfig_EnvironmentOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PORT", "5433")
	t.Setenv("DATABASE_DBNAME", "airdrop")
	t.Setenv("DATABASE_CONNECTION_POOL_MAX_OPEN_CONNS", "20")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("AIRDROP_TWITTER_PAGE_SIZE", "64")

	cfg, err := LoadConfig(Params{})
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, "5433", cfg.Database.Port)
	require.Equal(t, "airdrop", cfg.Database.DBNAME)
	require.Equal(t, 20, cfg.Database.ConnectionPool.MaxOpenConns)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, 64, cfg.Airdrop.Twitter.PageSize)
	require.Equal(t, "disable", cfg.Database.SSLMode)
}
