package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"funding-recon-service/pkg/logger"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestStorePathDefault(t *testing.T) {
	resetViper(t)
	if got := StorePath(); got != "fundingtracker.db" {
		t.Errorf("StorePath() = %q, want fundingtracker.db", got)
	}

	viper.Set("store.path", "/var/lib/tracker.db")
	if got := StorePath(); got != "/var/lib/tracker.db" {
		t.Errorf("StorePath() = %q, want configured path", got)
	}
}

func TestCreateLoggerConfigVerboseOverride(t *testing.T) {
	resetViper(t)
	viper.Set("log.level", "warn")
	viper.Set("verbose", true)

	config := CreateLoggerConfig()
	if config.Level != logger.DebugLevel {
		t.Errorf("verbose should force debug level, got %q", config.Level)
	}
}

func TestCreateMatcherConfigOverrides(t *testing.T) {
	resetViper(t)

	config := CreateMatcherConfig()
	if config.AutoMatchThreshold != 0.8 {
		t.Errorf("default auto match threshold = %v, want 0.8", config.AutoMatchThreshold)
	}

	viper.Set("matcher.auto_match_threshold", 0.9)
	viper.Set("matcher.payer_weight", 0.25)
	config = CreateMatcherConfig()
	if config.AutoMatchThreshold != 0.9 {
		t.Errorf("auto match threshold = %v, want 0.9", config.AutoMatchThreshold)
	}
	if config.PayerWeight != 0.25 {
		t.Errorf("payer weight = %v, want 0.25", config.PayerWeight)
	}
	if config.AmountWeight != 0.5 {
		t.Errorf("unset amount weight = %v, want default 0.5", config.AmountWeight)
	}
}

func TestCreateSyncerConfig(t *testing.T) {
	resetViper(t)
	viper.Set("sync.interval", "90s")

	config := CreateSyncerConfig()
	if config.Interval != 90*time.Second {
		t.Errorf("interval = %v, want 90s", config.Interval)
	}
}

func TestCreateTenantDBConfigNilWithoutDSN(t *testing.T) {
	resetViper(t)
	if config := CreateTenantDBConfig(); config != nil {
		t.Error("expected nil config when no DSN is set")
	}

	viper.Set("tenant_db.dsn", "postgres://ledger")
	viper.Set("tenant_db.tenants", []string{"omni", "tbwa"})
	config := CreateTenantDBConfig()
	if config == nil {
		t.Fatal("expected a config when DSN is set")
	}
	if config.DaysBack != 60 {
		t.Errorf("days back = %d, want default 60", config.DaysBack)
	}
	if len(config.Tenants) != 2 {
		t.Errorf("tenants = %v, want two entries", config.Tenants)
	}
}

func TestCreatePaymentsConfigNilWithoutBaseURL(t *testing.T) {
	resetViper(t)
	if config := CreatePaymentsConfig(); config != nil {
		t.Error("expected nil config when no base URL is set")
	}

	viper.Set("payments_api.base_url", "https://api.example.com")
	viper.Set("payments_api.account_filter", "omnicom")
	config := CreatePaymentsConfig()
	if config == nil {
		t.Fatal("expected a config when base URL is set")
	}
	if config.AccountFilter != "omnicom" {
		t.Errorf("account filter = %q, want omnicom", config.AccountFilter)
	}
}

func TestRemittanceDirDefaults(t *testing.T) {
	resetViper(t)
	dir, sourceType := RemittanceDir()
	if dir != "" {
		t.Errorf("dir = %q, want empty by default", dir)
	}
	if sourceType != "oasys" {
		t.Errorf("source type = %q, want oasys", sourceType)
	}
}
