package main

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/twinlink/broker/internal/fallback"
)

type Config struct {
	Log       LogConfig
	Broker    BrokerConfig    `mapstructure:"broker"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Assistant fallback.Config `mapstructure:"assistant"`
}

type BrokerConfig struct {
	URL         string `mapstructure:"url"`
	DeviceToken string `mapstructure:"device_token"`
}

type RelayConfig struct {
	// Secret must match the broker's; the agent cannot open payloads
	// without it.
	Secret string `mapstructure:"secret"`
}

type AgentConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/twinlink-agent")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("broker.device_token", "TWINLINK_DEVICE_TOKEN")
	_ = viper.BindEnv("relay.secret", "TWINLINK_RELAY_SECRET")
	_ = viper.BindEnv("assistant.api_key", "OPENROUTER_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}
