package config

import "github.com/caarlos0/env/v6"

type Config struct {
	// Path to the sqlite database file
	DatabasePath string `env:"DATABASE_PATH" envDefault:"database/hometrack.db"`

	// Port for the HTTP API
	HTTPPort string `env:"HTTP_PORT" envDefault:"5250"`

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of observation batches buffered in the queue
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"100"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed store writes
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}

	// Aggregation configuration
	Aggregation struct {
		// Day windows for moving averages and percent changes
		Windows []int `env:"AGGREGATION_WINDOWS" envDefault:"7,30,90" envSeparator:","`

		// Trailing days of historical daily averages kept per region
		RetentionDays int `env:"ROLLUP_RETENTION_DAYS" envDefault:"30"`

		// Minutes between scheduled aggregation runs
		IntervalMinutes int `env:"AGGREGATION_INTERVAL_MINUTES" envDefault:"60"`
	}

	// Archive configuration
	Archive struct {
		// Days to keep archived ledgers before cleanup removes them
		RetentionDays int `env:"ARCHIVE_RETENTION_DAYS" envDefault:"365"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
