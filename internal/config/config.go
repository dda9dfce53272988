package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	base "github.com/speedfox3/Space-Explorer/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr string
}

type AuthConfig struct {
	JWTSecret string
}

type StorageConfig struct {
	// Backend is "postgres" or "memory"; memory is for local development only.
	Backend string
}

type MatchingConfig struct {
	Interval time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Matching  MatchingConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("SPACE_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("SPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "space_explorer")
	v.SetDefault("db.user", "space")
	v.SetDefault("db.password", "space")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.addr", "")
	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("matching.interval", "5s")
	v.SetDefault("ratelimit.limit", 20)
	v.SetDefault("ratelimit.window", "1m")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			Name:     v.GetString("db.name"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			SSLMode:  v.GetString("db.sslmode"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("redis.addr"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("storage.backend")),
		},
		Matching: MatchingConfig{
			Interval: v.GetDuration("matching.interval"),
		},
		RateLimit: RateLimitConfig{
			Limit:  v.GetInt("ratelimit.limit"),
			Window: v.GetDuration("ratelimit.window"),
		},
	}

	if cfg.Storage.Backend != "postgres" && cfg.Storage.Backend != "memory" {
		return nil, fmt.Errorf("storage.backend must be postgres or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Matching.Interval <= 0 {
		return nil, fmt.Errorf("matching.interval must be positive")
	}
	return cfg, nil
}
