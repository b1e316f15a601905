// Package matcher implements probabilistic linkage of inbound funding
// payments to remittance groups.
//
// A ReceivedPayment carries no correlation code, so it cannot be upserted
// like other legs. Instead every unmatched payment is scored against every
// remittance group on three weighted signals:
//  1. Amount proximity (weight 0.5) with banded relative-difference tiers
//  2. Date proximity (weight 0.2) with banded day-distance tiers
//  3. Payer-name similarity (weight 0.3) over normalized descriptors
//
// A score at or above the auto-match threshold commits the link and fans
// the funding leg out to every correlation code in the winning group. A
// score in the suggestion band only annotates the payment for an operator.
//
// Example usage:
//
//	m := matcher.New(st, matcher.DefaultConfig(), log)
//	result, err := m.Run(ctx)
package matcher

import "fmt"

// Config controls the matcher's decision thresholds and signal weights.
type Config struct {
	// AutoMatchThreshold is the minimum score to commit a link without a
	// human in the loop.
	AutoMatchThreshold float64 `mapstructure:"auto_match_threshold"`

	// SuggestThreshold is the minimum score to record a suggestion. Scores
	// below it leave the payment untouched.
	SuggestThreshold float64 `mapstructure:"suggest_threshold"`

	// Signal weights. They should sum to 1.0 so scores stay in [0, 1].
	AmountWeight float64 `mapstructure:"amount_weight"`
	DateWeight   float64 `mapstructure:"date_weight"`
	PayerWeight  float64 `mapstructure:"payer_weight"`
}

// DefaultConfig returns the production matching configuration.
func DefaultConfig() *Config {
	return &Config{
		AutoMatchThreshold: 0.8,
		SuggestThreshold:   0.5,
		AmountWeight:       0.5,
		DateWeight:         0.2,
		PayerWeight:        0.3,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.AutoMatchThreshold <= 0 || c.AutoMatchThreshold > 1 {
		return fmt.Errorf("auto_match_threshold must be in (0, 1], got %v", c.AutoMatchThreshold)
	}
	if c.SuggestThreshold < 0 || c.SuggestThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("suggest_threshold must be in [0, auto_match_threshold], got %v", c.SuggestThreshold)
	}
	sum := c.AmountWeight + c.DateWeight + c.PayerWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("signal weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
