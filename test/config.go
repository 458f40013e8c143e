package test

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// INTEGRATION_WAIT_TIMEOUT bounds how long scenarios wait for an
	// asynchronous effect before failing.
	WaitTimeout time.Duration `envconfig:"INTEGRATION_WAIT_TIMEOUT" default:"5s"`
	// INTEGRATION_QUEUE_TICK drives the retry queue drain interval.
	QueueTick time.Duration `envconfig:"INTEGRATION_QUEUE_TICK" default:"50ms"`
	LogLevel  string        `envconfig:"INTEGRATION_LOG_LEVEL" default:"ERROR"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
