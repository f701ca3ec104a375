package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config shapes the pause between optimistic-transaction attempts.
type Config struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
	// MaxAttempts bounds the retries; zero retries forever.
	MaxAttempts int `yaml:"max_attempts"`
}

func DefaultConfig() Config {
	return Config{
		Base:   2 * time.Millisecond,
		Max:    250 * time.Millisecond,
		Jitter: 0.2,
	}
}

func (c Config) Validate() error {
	if c.Base <= 0 {
		return errors.New("base must be positive")
	}
	if c.Max <= 0 {
		return errors.New("max must be positive")
	}
	if c.Max < c.Base {
		return errors.New("max must be >= base")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return errors.New("jitter must be in [0,1)")
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// Exhausted reports whether attempt has used up the configured budget.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

func NextDelay(cfg Config, attempt int64, rng *rand.Rand) (time.Duration, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if attempt < 1 {
		return 0, errors.New("attempt must be >= 1")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	delay := cfg.Base
	for i := int64(1); i < attempt; i++ {
		if delay >= cfg.Max/2 {
			delay = cfg.Max
			break
		}
		delay *= 2
	}
	if delay > cfg.Max {
		delay = cfg.Max
	}

	if cfg.Jitter > 0 {
		jitterRange := cfg.Jitter * 2
		delta := (rng.Float64() * jitterRange) - cfg.Jitter
		jittered := float64(delay) * (1 + delta)
		if jittered < float64(time.Microsecond) {
			jittered = float64(time.Microsecond)
		}
		delay = time.Duration(jittered)
	}
	return delay, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
