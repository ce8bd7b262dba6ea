package main

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/twinlink/broker/internal/api/http"
	"github.com/twinlink/broker/internal/fallback"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Auth     AuthConfig      `mapstructure:"auth"`
	Relay    RelayConfig     `mapstructure:"relay"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Fallback fallback.Config `mapstructure:"fallback"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	Issuer      string        `mapstructure:"issuer"`
}

type RelayConfig struct {
	// Secret is the shared operator secret the relay key is derived from.
	// The broker refuses to start without it.
	Secret              string        `mapstructure:"secret"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	ConversationTimeout time.Duration `mapstructure:"conversation_timeout"`
}

type QueueConfig struct {
	MaxDepth int           `mapstructure:"max_depth"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	// Empty URL selects the in-memory store: single process, nothing
	// survives a restart.
	Url    string `mapstructure:"url"`
	Schema string `mapstructure:"schema"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/twinlink-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("auth.jwt_secret", "TWINLINK_JWT_SECRET")
	_ = viper.BindEnv("relay.secret", "TWINLINK_RELAY_SECRET")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("fallback.api_key", "OPENROUTER_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}
