package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "BATTLE"

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StoreDriver string // memory, postgres or sqlite
	StoreDSN    string

	NATSURL           string // empty disables publishing
	NATSSubjectPrefix string

	QTELead     time.Duration
	QTEDuration time.Duration
	QTEGrace    time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxAttempts int
	RateLimitLockout     time.Duration

	BattleInboxSize   int
	BattleExpiryDrain time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "battle.events")

	v.SetDefault("qte.lead", "300ms")
	v.SetDefault("qte.duration", "1200ms")
	v.SetDefault("qte.grace", "150ms")

	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.max_attempts", 10)
	v.SetDefault("ratelimit.lockout", "5m")

	v.SetDefault("battle.inbox_size", 64)
	v.SetDefault("battle.expiry_drain", "250ms")
}

// Load reads .env (if present), then BATTLE_* environment variables over
// the optional config file over the defaults.
func Load(configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Config{
		HTTPAddr:             v.GetString("http.addr"),
		LogLevel:             v.GetString("log.level"),
		LogFormat:            v.GetString("log.format"),
		StoreDriver:          v.GetString("store.driver"),
		StoreDSN:             v.GetString("store.dsn"),
		NATSURL:              v.GetString("nats.url"),
		NATSSubjectPrefix:    v.GetString("nats.subject_prefix"),
		QTELead:              v.GetDuration("qte.lead"),
		QTEDuration:          v.GetDuration("qte.duration"),
		QTEGrace:             v.GetDuration("qte.grace"),
		RateLimitWindow:      v.GetDuration("ratelimit.window"),
		RateLimitMaxAttempts: v.GetInt("ratelimit.max_attempts"),
		RateLimitLockout:     v.GetDuration("ratelimit.lockout"),
		BattleInboxSize:      v.GetInt("battle.inbox_size"),
		BattleExpiryDrain:    v.GetDuration("battle.expiry_drain"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && c.StoreDSN == "" {
		return fmt.Errorf("store.dsn is required for %s", c.StoreDriver)
	}
	if c.QTEDuration <= 0 {
		return fmt.Errorf("qte.duration must be positive, got %s", c.QTEDuration)
	}
	if c.QTELead < 0 || c.QTEGrace < 0 {
		return fmt.Errorf("qte.lead and qte.grace must not be negative")
	}
	if c.RateLimitMaxAttempts <= 0 {
		return fmt.Errorf("ratelimit.max_attempts must be positive, got %d", c.RateLimitMaxAttempts)
	}
	if c.BattleInboxSize <= 0 {
		return fmt.Errorf("battle.inbox_size must be positive, got %d", c.BattleInboxSize)
	}
	if c.BattleExpiryDrain <= 0 {
		return fmt.Errorf("battle.expiry_drain must be positive, got %s", c.BattleExpiryDrain)
	}
	return nil
}
