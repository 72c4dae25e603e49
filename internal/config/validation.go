package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Hedera.validate(); err != nil {
		return err
	}
	if err := c.Chat.validate(); err != nil {
		return err
	}
	if err := c.Analytics.validate(); err != nil {
		return err
	}
	return nil
}

func (h *HederaConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(h.Network)) {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("hedera.network must be mainnet or testnet")
	}
	if strings.TrimSpace(h.MirrorMainnet) == "" {
		return fmt.Errorf("hedera.mirror_mainnet cannot be empty")
	}
	return nil
}

func (c *ChatConfig) validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("chat.model cannot be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("chat.temperature must be within [0, 2]")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens must be >= 0")
	}
	return nil
}

func (a *AnalyticsConfig) validate() error {
	if a.DefaultDays < 7 || a.DefaultDays > 365 {
		return fmt.Errorf("analytics.default_days must be within [7, 365]")
	}
	if a.MinPoints < 2 {
		return fmt.Errorf("analytics.min_points must be >= 2")
	}
	return nil
}
