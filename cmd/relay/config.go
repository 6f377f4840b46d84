package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Host              string        `envconfig:"RELAY_HOST" default:"0.0.0.0"`
	Port              int           `envconfig:"RELAY_PORT" default:"8080"`
	HealthPort        int           `envconfig:"RELAY_HEALTH_PORT" default:"8081"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	SinkTimeout       time.Duration `envconfig:"SINK_TIMEOUT" default:"2s"`
	RestartInterval   time.Duration `envconfig:"RESTART_INTERVAL" default:"500ms"`
	ReapInterval      time.Duration `envconfig:"REAP_INTERVAL" default:"15s"`
	MaxIdle           time.Duration `envconfig:"MAX_IDLE" default:"90s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
