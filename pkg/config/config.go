package config

import (
	goerrs "errors"
	"time"

	"github.com/spf13/viper"
)

// Config carries the session tunables. Everything has a working default;
// values come from an optional drawsync.yaml plus DRAWSYNC_* environment
// variables.
type Config struct {
	UserName string `mapstructure:"userName"`

	Heartbeat struct {
		Interval        time.Duration `mapstructure:"interval"`
		MissedThreshold int           `mapstructure:"missedThreshold"`
	} `mapstructure:"Heartbeat"`

	Cursor struct {
		ThrottleInterval time.Duration `mapstructure:"throttleInterval"`
	} `mapstructure:"Cursor"`

	Transport struct {
		MaxFrameSize        int           `mapstructure:"maxFrameSize"`
		MaxPeers            int           `mapstructure:"maxPeers"`
		OutgoingQueueLength int           `mapstructure:"outgoingQueueLength"`
		WriteTimeout        time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"Transport"`

	Websocket struct {
		ListenAddress string `mapstructure:"listenAddress"`
		Endpoint      string `mapstructure:"endpoint"`
	} `mapstructure:"Websocket"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("drawsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("DRAWSYNC")
	v.AutomaticEnv()

	v.SetDefault("Heartbeat.interval", time.Second)
	v.SetDefault("Heartbeat.missedThreshold", 5)
	v.SetDefault("Cursor.throttleInterval", 100*time.Millisecond)
	v.SetDefault("Transport.maxFrameSize", 16*1024*1024)
	v.SetDefault("Transport.maxPeers", 64)
	v.SetDefault("Transport.outgoingQueueLength", 64)
	v.SetDefault("Transport.writeTimeout", 10*time.Second)
	v.SetDefault("Websocket.endpoint", "/ws")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the defaults stand.
		var notFound viper.ConfigFileNotFoundError
		if !goerrs.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
