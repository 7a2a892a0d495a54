package config

import "github.com/spf13/viper"

// Config holds typed configuration for the dispatch service.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string
	OTelEndpoint string
	// RateLimit is the max task creations per requester per minute.
	RateLimit int
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		HTTPPort:     v.GetString("http_port"),
		MetricsAddr:  v.GetString("metrics_addr"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		RateLimit:    v.GetInt("rate_limit"),
	}
}
