// Package config loads service configuration from the environment and an
// optional config file named by CONFIG_FILE.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// Config is the resolved service configuration.
type Config struct {
	Port string

	// Storage. DATABASE_URL wins over BADGER_PATH; with neither set the
	// ledger lives in memory.
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	BadgerPath  string

	// Host. With no brokers the in-process simulator is used.
	KafkaBrokers          []string
	KafkaInstructionTopic string
	KafkaOwnershipTopic   string
	KafkaGroupID          string

	// Contract instance.
	ContractAddress  string
	Admin            string
	NFTContract      string
	RewardToken      string
	RewardRatePerDay decimal.Decimal
	ExchangeRate     decimal.Decimal
	RequireCustody   bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("KAFKA_INSTRUCTION_TOPIC", "rwa.instructions")
	v.SetDefault("KAFKA_OWNERSHIP_TOPIC", "rwa.ownership")
	v.SetDefault("KAFKA_GROUP_ID", "custody-engine")
	v.SetDefault("CONTRACT_ADDRESS", "mantra1custody0engine")
	v.SetDefault("REWARD_RATE_PER_DAY", "10")
	v.SetDefault("EXCHANGE_RATE", "1")
	v.SetDefault("REQUIRE_CUSTODY", true)
}

// Load reads configuration from environment variables, layered over the
// file named by CONFIG_FILE when it is set.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	defaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	rate, err := decimal.NewFromString(v.GetString("REWARD_RATE_PER_DAY"))
	if err != nil {
		return nil, fmt.Errorf("config: REWARD_RATE_PER_DAY: %w", err)
	}
	exchange, err := decimal.NewFromString(v.GetString("EXCHANGE_RATE"))
	if err != nil {
		return nil, fmt.Errorf("config: EXCHANGE_RATE: %w", err)
	}

	return &Config{
		Port:                  v.GetString("PORT"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisURL:              v.GetString("REDIS_URL"),
		CacheTTL:              v.GetDuration("CACHE_TTL"),
		BadgerPath:            v.GetString("BADGER_PATH"),
		KafkaBrokers:          splitList(v.GetString("KAFKA_BROKERS")),
		KafkaInstructionTopic: v.GetString("KAFKA_INSTRUCTION_TOPIC"),
		KafkaOwnershipTopic:   v.GetString("KAFKA_OWNERSHIP_TOPIC"),
		KafkaGroupID:          v.GetString("KAFKA_GROUP_ID"),
		ContractAddress:       v.GetString("CONTRACT_ADDRESS"),
		Admin:                 v.GetString("ADMIN"),
		NFTContract:           v.GetString("NFT_CONTRACT"),
		RewardToken:           v.GetString("REWARD_TOKEN"),
		RewardRatePerDay:      rate,
		ExchangeRate:          exchange,
		RequireCustody:        v.GetBool("REQUIRE_CUSTODY"),
	}, nil
}

// Contract returns the instantiate config for the contract instance.
func (c *Config) Contract() model.Config {
	return model.Config{
		Admin:            c.Admin,
		NFTContract:      c.NFTContract,
		RewardToken:      c.RewardToken,
		RewardRatePerDay: c.RewardRatePerDay,
		ExchangeRate:     c.ExchangeRate,
		RequireCustody:   c.RequireCustody,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
