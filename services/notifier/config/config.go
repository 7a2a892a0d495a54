package config

import "github.com/spf13/viper"

// Config holds typed configuration for the notifier service.
type Config struct {
	LogLevel      string
	KafkaBrokers  string
	ConsumerGroup string
	PostgresDSN   string
	MetricsAddr   string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		ConsumerGroup: v.GetString("consumer_group"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
