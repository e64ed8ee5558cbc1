package network

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxPoolSize               = 100
	defaultMaxConnecting             = 2
	defaultMinPoolSizeCheckFrequency = 100 * time.Millisecond
)

// PoolOptions defines configuration for the connection pool. The zero value of
// MaxPoolSize means unbounded; zero MaxConnecting and MinPoolSizeCheckFrequency
// take their defaults.
type PoolOptions struct {
	MaxPoolSize               uint64        `yaml:"max_pool_size"`
	MinPoolSize               uint64        `yaml:"min_pool_size"`
	MaxConnecting             uint64        `yaml:"max_connecting"`
	MaxIdleTime               time.Duration `yaml:"max_idle_time"`
	WaitQueueTimeout          time.Duration `yaml:"wait_queue_timeout"`
	MinPoolSizeCheckFrequency time.Duration `yaml:"min_pool_size_check_frequency"`
	LoadBalanced              bool          `yaml:"load_balanced"`

	// EventSink receives every lifecycle notification. It must not call back
	// into the pool.
	EventSink EventSink `yaml:"-"`
	// ErrorHandler receives establishment failures from the min-size
	// maintainer, which has no caller to report to.
	ErrorHandler func(error) `yaml:"-"`
	Logger       *slog.Logger `yaml:"-"`
}

// DefaultPoolOptions returns the default pool configuration
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxPoolSize:               defaultMaxPoolSize,
		MaxConnecting:             defaultMaxConnecting,
		MinPoolSizeCheckFrequency: defaultMinPoolSizeCheckFrequency,
	}
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxConnecting == 0 {
		o.MaxConnecting = defaultMaxConnecting
	}
	if o.MinPoolSizeCheckFrequency <= 0 {
		o.MinPoolSizeCheckFrequency = defaultMinPoolSizeCheckFrequency
	}
	return o
}

// Validate checks the options for configuration errors
func (o PoolOptions) Validate() error {
	if o.MaxPoolSize != 0 && o.MinPoolSize > o.MaxPoolSize {
		return fmt.Errorf("%w: minimum pool size %d must not be greater than maximum pool size %d",
			ErrInvalidPoolOptions, o.MinPoolSize, o.MaxPoolSize)
	}
	if o.MaxIdleTime < 0 || o.WaitQueueTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPoolOptions)
	}
	return nil
}

// LoadPoolOptions reads pool options from a YAML file on top of the defaults,
// then applies POOL_* environment overrides. An empty path skips the file.
func LoadPoolOptions(path string) (PoolOptions, error) {
	opts := DefaultPoolOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("read pool options: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("%w: parse %s: %v", ErrInvalidPoolOptions, path, err)
		}
	}

	if err := applyEnvOverrides(&opts); err != nil {
		return opts, err
	}

	opts = opts.withDefaults()
	return opts, opts.Validate()
}

func applyEnvOverrides(opts *PoolOptions) error {
	uints := map[string]*uint64{
		"POOL_MAX_SIZE":       &opts.MaxPoolSize,
		"POOL_MIN_SIZE":       &opts.MinPoolSize,
		"POOL_MAX_CONNECTING": &opts.MaxConnecting,
	}
	for name, dst := range uints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidPoolOptions, name, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"POOL_WAIT_QUEUE_TIMEOUT": &opts.WaitQueueTimeout,
		"POOL_MAX_IDLE_TIME":      &opts.MaxIdleTime,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidPoolOptions, name, v, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("POOL_LOAD_BALANCED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: POOL_LOAD_BALANCED=%q: %v", ErrInvalidPoolOptions, v, err)
		}
		opts.LoadBalanced = b
	}

	return nil
}
