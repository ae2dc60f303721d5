// Package config loads the bot configuration from a YAML or JSON file,
// with environment overrides for the credentials. The campaign seed and
// channel list are fixed for the process lifetime; only the logging level
// is re-applied on file change.
package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"

	"mailerbot/internal/campaign"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Campaign  CampaignConfig  `json:"campaign"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type TelegramConfig struct {
	Token      string `json:"token"`
	OperatorID int64  `json:"operator_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

type ChannelConfig struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CampaignConfig seeds the in-memory campaign at startup. Date is
// DD.MM.YYYY; leave it empty for a campaign that never auto-fires.
type CampaignConfig struct {
	Date     string          `json:"date,omitempty"`
	Text     string          `json:"text"`
	Channels []ChannelConfig `json:"channels,omitempty"`
}

// BroadcastConfig paces the fan-out. Both are Go duration strings.
type BroadcastConfig struct {
	RecipientInterval  string `json:"recipient_interval,omitempty"`
	AttachmentInterval string `json:"attachment_interval,omitempty"`
}

type SchedulerConfig struct {
	// Enabled is a pointer so "omitted" defaults to true.
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// envOverrides lets deployments keep the token out of the config file.
type envOverrides struct {
	Token      string `env:"MAILERBOT_TOKEN"`
	OperatorID int64  `env:"MAILERBOT_OPERATOR_ID"`
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if o.Token != "" {
		c.Telegram.Token = o.Token
	}
	if o.OperatorID != 0 {
		c.Telegram.OperatorID = o.OperatorID
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set MAILERBOT_TOKEN)")
	}
	if c.Telegram.OperatorID == 0 {
		return fmt.Errorf("telegram.operator_id is required (or set MAILERBOT_OPERATOR_ID)")
	}
	if d := strings.TrimSpace(c.Campaign.Date); d != "" {
		if _, err := campaign.ParseDate(d); err != nil {
			return fmt.Errorf("campaign.date %q: %w", d, err)
		}
	}
	for i, ch := range c.Campaign.Channels {
		if ch.ID == 0 {
			return fmt.Errorf("campaign.channels[%d]: id is required", i)
		}
	}
	return nil
}

// TargetDate parses the seed date; empty means the "never" sentinel.
func (c CampaignConfig) TargetDate() campaign.Date {
	d := strings.TrimSpace(c.Date)
	if d == "" {
		return campaign.Date{}
	}
	parsed, err := campaign.ParseDate(d)
	if err != nil {
		return campaign.Date{}
	}
	return parsed
}

// ParseDuration parses a Go duration string, falling back to def when the
// field is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
