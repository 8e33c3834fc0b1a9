package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BotToken    string `env:"BOT_TOKEN,required"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Lumia balance authority
	LumiaEnabled bool   `env:"LUMIA_ENABLED" envDefault:"false"`
	LumiaURL     string `env:"LUMIA_API_URL" envDefault:"https://api.lumiastream.com/v1"`
	LumiaToken   string `env:"LUMIA_API_TOKEN"`

	// Economy overrides
	SubmissionBaseCost int64 `env:"SUBMISSION_BASE_COST" envDefault:"210"`
	PushBaseCost       int64 `env:"PUSH_BASE_COST" envDefault:"21"`
	StartingBalance    int64 `env:"STARTING_BALANCE" envDefault:"1000"`

	// Bot behavior
	DropPendingUpdates bool `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsAdmin(platformID int64) bool {
	for _, id := range c.AdminIDs {
		if id == platformID {
			return true
		}
	}
	return false
}
