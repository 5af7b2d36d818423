// Package config содержит логику чтения конфигурации бэк-офиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultSchedulerInterval = time.Hour
	defaultJobBudget         = 5 * time.Minute
	defaultEffectTimeout     = 5 * time.Second
)

// Config содержит параметры конфигурации бэк-офиса.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	NotifyGatewayAddress string        `env:"NOTIFY_GATEWAY_ADDRESS"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	AdminEmail           string        `env:"ADMIN_EMAIL"`
	SchedulerInterval    time.Duration `env:"SCHEDULER_INTERVAL"`
	JobBudget            time.Duration `env:"JOB_BUDGET"`
	EffectTimeout        time.Duration `env:"EFFECT_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyGatewayAddress, "n", "", "notification gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing staff tokens")
	flag.StringVar(&cfg.AdminEmail, "m", "", "administrator email for notifications")
	flag.DurationVar(&cfg.SchedulerInterval, "i", defaultSchedulerInterval, "escalation jobs interval, 0 disables the scheduler")
	flag.DurationVar(&cfg.JobBudget, "b", defaultJobBudget, "time budget for a single job run")
	flag.DurationVar(&cfg.EffectTimeout, "t", defaultEffectTimeout, "timeout for a notification or activity write")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.NotifyGatewayAddress, envCfg.NotifyGatewayAddress)
	overrideString(&cfg.AuthSecret, envCfg.AuthSecret)
	overrideString(&cfg.AdminEmail, envCfg.AdminEmail)
	overrideDuration(&cfg.SchedulerInterval, envCfg.SchedulerInterval)
	overrideDuration(&cfg.JobBudget, envCfg.JobBudget)
	overrideDuration(&cfg.EffectTimeout, envCfg.EffectTimeout)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.JobBudget < 0 || cfg.EffectTimeout < 0 || cfg.SchedulerInterval < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}

	return cfg, nil
}

func overrideString(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}

func overrideDuration(dst *time.Duration, envValue time.Duration) {
	if envValue != 0 {
		*dst = envValue
	}
}
