package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerConfig bounds the scheduler worker: probe limits and webhook
// dispatch policy. Loaded from YAML when WORKER_CONFIG_PATH is set,
// otherwise defaults apply.
type WorkerConfig struct {
	Workers             int            `yaml:"workers"`
	QueueSize           int            `yaml:"queueSize"`
	QueryTimeoutSeconds int            `yaml:"queryTimeoutSeconds"`
	Dispatch            DispatchConfig `yaml:"dispatch"`
}

type DispatchConfig struct {
	Attempts       int `yaml:"attempts"`
	BackoffSeconds int `yaml:"backoffSeconds"`
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

func Default() WorkerConfig {
	return WorkerConfig{
		Workers:             4,
		QueueSize:           128,
		QueryTimeoutSeconds: 30,
		Dispatch: DispatchConfig{
			Attempts:       3,
			BackoffSeconds: 1,
			TimeoutSeconds: 10,
		},
	}
}

func Load(path string) (WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WorkerConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func (c WorkerConfig) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queueSize must be positive, got %d", c.QueueSize)
	}
	if c.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("queryTimeoutSeconds must be positive, got %d", c.QueryTimeoutSeconds)
	}
	if c.Dispatch.Attempts <= 0 {
		return fmt.Errorf("dispatch.attempts must be positive, got %d", c.Dispatch.Attempts)
	}
	return nil
}

func (c WorkerConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c DispatchConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
