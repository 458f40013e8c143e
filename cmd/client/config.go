package main

import "time"

type Config struct {
	LogLevel       string `env:"LOG_LEVEL,required=true"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	TransportURL string `env:"TRANSPORT_URL,required=true"`
	BackendURL   string `env:"BACKEND_URL,required=true"`

	Username      string `env:"USERNAME,required=true"`
	WalletAddress string `env:"WALLET_ADDRESS,required=true"`

	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS"`
	ReconnectInterval    time.Duration `env:"RECONNECT_INTERVAL"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL"`
	BufferLimit          int           `env:"BUFFER_LIMIT"`
	BackendTimeout       time.Duration `env:"BACKEND_TIMEOUT"`

	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY"`
	RetryBackoffFactor float64       `env:"RETRY_BACKOFF_FACTOR"`
	QueueTick          time.Duration `env:"QUEUE_TICK"`

	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL"`
}
