// Package config loads client settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// ServerURL is the ws:// or wss:// endpoint of the game server.
	ServerURL string `env:"PARQUES_SERVER_URL,required,notEmpty"`
	RoomCode  string `env:"PARQUES_ROOM_CODE,required,notEmpty"`
	Token     string `env:"PARQUES_TOKEN,required,notEmpty"`

	PingInterval         time.Duration `env:"PARQUES_PING_INTERVAL" envDefault:"25s"`
	RequestTimeout       time.Duration `env:"PARQUES_REQUEST_TIMEOUT" envDefault:"30s"`
	ReconnectBase        time.Duration `env:"PARQUES_RECONNECT_BASE" envDefault:"1s"`
	ReconnectMax         time.Duration `env:"PARQUES_RECONNECT_MAX" envDefault:"30s"`
	MaxReconnectAttempts int           `env:"PARQUES_RECONNECT_ATTEMPTS" envDefault:"5"`

	// HomestretchExclusive selects the strict reading of the homestretch
	// boundary, where landing exactly on the threshold stays on the road.
	HomestretchExclusive bool `env:"PARQUES_HOMESTRETCH_EXCLUSIVE" envDefault:"false"`

	// StatusAddr serves /healthz and /status; empty disables it.
	StatusAddr string `env:"PARQUES_STATUS_ADDR" envDefault:":8088"`

	Debug bool `env:"PARQUES_DEBUG" envDefault:"false"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
