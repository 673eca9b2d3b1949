// Package config provides environment-based configuration loading and
// validation for the scheduler facade. The timing wheel core never reads
// configuration itself — callers construct it with explicit arguments; this
// package only exists to give the facade sane, validated defaults.
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	sched, err := scheduler.New(cfg)
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/hashwheel/timer/pkg/errors"
)

// Scheduler holds the facade-level defaults used to construct the
// underlying timing wheel: a tick duration (which also encodes the time
// unit, idiomatically, via time.Duration) and the requested wheel width.
// The width is rounded up to the next power of two by the wheel itself.
type Scheduler struct {
	TickDuration  time.Duration `env:"TIMER_TICK_DURATION" env-default:"100ms" validate:"gt=0"`
	TicksPerWheel int           `env:"TIMER_TICKS_PER_WHEEL" env-default:"512" validate:"gt=0"`
}

// Load reads the scheduler configuration from a .env file or the process
// environment, falling back to the documented defaults, then validates it.
func Load() (*Scheduler, error) {
	cfg := &Scheduler{}
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to read scheduler config")
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "scheduler config validation failed")
	}
	return cfg, nil
}

// Default returns the documented defaults without touching the
// environment: tick_duration=100ms, ticks_per_wheel=512.
func Default() *Scheduler {
	return &Scheduler{
		TickDuration:  100 * time.Millisecond,
		TicksPerWheel: 512,
	}
}
