package scan

import (
	"fmt"
	"time"
)

// Mode decides what Run does once the account set reaches the chain tip.
type Mode int

const (
	Full       Mode = iota // scan until caught up, then return
	Partial                // stop after MaxBlocks blocks of horizon progress
	Continuous             // poll forever at PollInterval
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "full", "":
		return Full, nil
	case "partial":
		return Partial, nil
	case "continuous":
		return Continuous, nil
	default:
		return Full, fmt.Errorf("unknown scan mode %q", s)
	}
}

const (
	DEFAULT_BATCH_SIZE           uint64 = 100
	DEFAULT_POLL_INTERVAL               = 30 * time.Second
	DEFAULT_REORG_CHECK_INTERVAL uint64 = 1000
	DEFAULT_REORG_CHECK_DEPTH           = 100

	DEFAULT_FETCH_TIMEOUT       = 5 * time.Minute
	DEFAULT_MAX_TIMEOUT_RETRIES = 3
	DEFAULT_MAX_ERROR_RETRIES   = 3
	DEFAULT_BACKOFF_BASE        = 2 * time.Second
	DEFAULT_BACKOFF_MAX         = 60 * time.Second
	MAX_BACKOFF_EXPONENT        = 5
	DEFAULT_TIMEOUT_RETRY_DELAY = 1 * time.Second
)

type Config struct {
	Mode               Mode
	BatchSize          uint64        // blocks per fetch
	MaxBlocks          uint64        // Partial only
	PollInterval       time.Duration // Continuous only
	ReorgCheckInterval uint64        // applied blocks between reorg checks
	ReorgCheckDepth    int           // tips compared per check
	Retry              RetryConfig
}

// RetryConfig controls how a failed fetch is retried.
// Error retries back off as min(BackoffBase * 2^min(retry, 5), BackoffMax).
type RetryConfig struct {
	FetchTimeout      time.Duration
	MaxTimeoutRetries int
	MaxErrorRetries   int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	TimeoutRetryDelay time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		FetchTimeout:      DEFAULT_FETCH_TIMEOUT,
		MaxTimeoutRetries: DEFAULT_MAX_TIMEOUT_RETRIES,
		MaxErrorRetries:   DEFAULT_MAX_ERROR_RETRIES,
		BackoffBase:       DEFAULT_BACKOFF_BASE,
		BackoffMax:        DEFAULT_BACKOFF_MAX,
		TimeoutRetryDelay: DEFAULT_TIMEOUT_RETRY_DELAY,
	}
}

func DefaultConfig() *Config {
	return &Config{
		Mode:               Full,
		BatchSize:          DEFAULT_BATCH_SIZE,
		PollInterval:       DEFAULT_POLL_INTERVAL,
		ReorgCheckInterval: DEFAULT_REORG_CHECK_INTERVAL,
		ReorgCheckDepth:    DEFAULT_REORG_CHECK_DEPTH,
		Retry:              DefaultRetryConfig(),
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ReorgCheckInterval == 0 {
		c.ReorgCheckInterval = d.ReorgCheckInterval
	}
	if c.ReorgCheckDepth <= 0 {
		c.ReorgCheckDepth = d.ReorgCheckDepth
	}
	r := &c.Retry
	if r.FetchTimeout <= 0 {
		r.FetchTimeout = d.Retry.FetchTimeout
	}
	if r.MaxTimeoutRetries <= 0 {
		r.MaxTimeoutRetries = d.Retry.MaxTimeoutRetries
	}
	if r.MaxErrorRetries <= 0 {
		r.MaxErrorRetries = d.Retry.MaxErrorRetries
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = d.Retry.BackoffBase
	}
	if r.BackoffMax <= 0 {
		r.BackoffMax = d.Retry.BackoffMax
	}
	if r.TimeoutRetryDelay <= 0 {
		r.TimeoutRetryDelay = d.Retry.TimeoutRetryDelay
	}
	return c
}

func (r RetryConfig) backoff(retry int) time.Duration {
	exp := retry
	if exp > MAX_BACKOFF_EXPONENT {
		exp = MAX_BACKOFF_EXPONENT
	}
	d := r.BackoffBase << uint(exp)
	if d > r.BackoffMax || d <= 0 {
		return r.BackoffMax
	}
	return d
}
