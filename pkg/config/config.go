package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	CoverCacheDir             string
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	Hostname                  string
	ScanBatchSize             int
	WorkerProcesses           int
}

const environmentENV = "ENVIRONMENT"

// NewForTest returns a test config regardless of the ENVIRONMENT variable.
func NewForTest() *Config {
	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 1,
		DatabaseConnectRetryDelay: 10 * time.Millisecond,
		DatabaseMaxRetries:        5,
		Hostname:                  "test",
		ScanBatchSize:             100,
		WorkerProcesses:           1,
	}
	loadTestConfig(cfg)
	return cfg
}

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		Hostname:                  hostname,
		ScanBatchSize:             100,
		WorkerProcesses:           2,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}
