package main

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Identity        string        `env:"CHAT_IDENTITY"`
	RelayURL        string        `env:"RELAY_URL,default=ws://localhost:8080/ws"`
	GlobalChannel   string        `env:"GLOBAL_CHANNEL,default=ofc-global"`
	StateDir        string        `env:"STATE_DIR"`
	LogLevel        string        `env:"LOG_LEVEL,default=WARN"`
	CharReplacement string        `env:"CHARACTER_REPLACEMENT,default=*"`
	MaxAttachment   int           `env:"MAX_ATTACHMENT_SIZE,default=1048576"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
	Colours         bool          `env:"CHAT_COLOURS,default=true"`
}

// LoadConfig reads a .env file when present, then the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	_, err := env.UnmarshalFromEnviron(&config)
	return config, err
}
