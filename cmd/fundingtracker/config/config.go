// Package config turns viper settings into typed component configurations.
// Every factory starts from the component's defaults and applies only the
// keys the operator actually set, so a bare invocation still works against
// a local store.
package config

import (
	"github.com/spf13/viper"

	"funding-recon-service/internal/feeds"
	"funding-recon-service/internal/matcher"
	"funding-recon-service/internal/syncer"
	"funding-recon-service/pkg/logger"
)

// StorePath returns the SQLite database path for the reconciliation store.
func StorePath() string {
	if p := viper.GetString("store.path"); p != "" {
		return p
	}
	return "fundingtracker.db"
}

// CreateLoggerConfig creates the logger configuration. --verbose forces
// debug level regardless of the configured level.
func CreateLoggerConfig() *logger.Config {
	config := logger.DefaultConfig()

	if level := viper.GetString("log.level"); level != "" {
		config.Level = level
	}
	if viper.GetBool("verbose") {
		config.Level = logger.DebugLevel
	}
	config.JSON = viper.GetBool("log.json")

	return config
}

// CreateMatcherConfig creates the funding matcher configuration with any
// operator-tuned thresholds and signal weights applied.
func CreateMatcherConfig() *matcher.Config {
	config := matcher.DefaultConfig()

	if viper.IsSet("matcher.auto_match_threshold") {
		config.AutoMatchThreshold = viper.GetFloat64("matcher.auto_match_threshold")
	}
	if viper.IsSet("matcher.suggest_threshold") {
		config.SuggestThreshold = viper.GetFloat64("matcher.suggest_threshold")
	}
	if viper.IsSet("matcher.amount_weight") {
		config.AmountWeight = viper.GetFloat64("matcher.amount_weight")
	}
	if viper.IsSet("matcher.date_weight") {
		config.DateWeight = viper.GetFloat64("matcher.date_weight")
	}
	if viper.IsSet("matcher.payer_weight") {
		config.PayerWeight = viper.GetFloat64("matcher.payer_weight")
	}

	return config
}

// CreateSyncerConfig creates the sync orchestrator configuration.
func CreateSyncerConfig() *syncer.Config {
	config := syncer.DefaultConfig()

	if interval := viper.GetDuration("sync.interval"); interval > 0 {
		config.Interval = interval
	}

	return config
}

// CreateTenantDBConfig creates the tenant invoice database configuration.
// Returns nil when no DSN is configured; the invoice step is then skipped.
func CreateTenantDBConfig() *feeds.TenantDBConfig {
	dsn := viper.GetString("tenant_db.dsn")
	if dsn == "" {
		return nil
	}

	config := feeds.DefaultTenantDBConfig()
	config.DSN = dsn
	config.Tenants = viper.GetStringSlice("tenant_db.tenants")
	if days := viper.GetInt("tenant_db.days_back"); days > 0 {
		config.DaysBack = days
	}

	return config
}

// CreatePaymentsConfig creates the payments API client configuration.
// Returns nil when no base URL is configured; the funding and payment
// steps are then skipped.
func CreatePaymentsConfig() *feeds.PaymentsConfig {
	baseURL := viper.GetString("payments_api.base_url")
	if baseURL == "" {
		return nil
	}

	config := feeds.DefaultPaymentsConfig()
	config.BaseURL = baseURL
	config.LoginID = viper.GetString("payments_api.login_id")
	config.APIKey = viper.GetString("payments_api.api_key")
	config.AccountFilter = viper.GetString("payments_api.account_filter")

	return config
}

// RemittanceDir returns the advice drop directory and source-type tag.
// An empty directory means no remittance source is wired.
func RemittanceDir() (dir, sourceType string) {
	dir = viper.GetString("remittance.dir")
	sourceType = viper.GetString("remittance.source_type")
	if sourceType == "" {
		sourceType = "oasys"
	}
	return dir, sourceType
}
