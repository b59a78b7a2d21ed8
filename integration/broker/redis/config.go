package redis

import "time"

// Config holds Redis connection parameters with environment variable mapping.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	ChannelPrefix  string        `env:"REDIS_CHANNEL_PREFIX" envDefault:"realtime."`
	PingTimeout    time.Duration `env:"REDIS_PING_TIMEOUT" envDefault:"2s"`
}
