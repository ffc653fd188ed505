package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "DATABASE_URL", "REDIS_URL", "DISBURSEMENT_REDIS_URL",
		"LEDGER_GATEWAY_URL", "LEDGER_TX_VALIDITY_SECONDS", "DEFAULT_APPROVAL_THRESHOLD", "RECONCILE_SCHEDULE"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" || cfg.LedgerGatewayURL != "" {
		t.Fatalf("expected optional backends to be unset, got %+v", cfg)
	}
	if cfg.DefaultApprovalThreshold != 2 {
		t.Fatalf("expected default approval threshold 2, got %d", cfg.DefaultApprovalThreshold)
	}
	if cfg.TxValidity() != 5*time.Minute {
		t.Fatalf("expected 300s envelope validity, got %s", cfg.TxValidity())
	}
	if cfg.ReconcileSchedule != "@every 1m" {
		t.Fatalf("expected default reconcile schedule, got %q", cfg.ReconcileSchedule)
	}
	if cfg.LedgerNetworkPassphrase != "Test SDF Network ; September 2015" {
		t.Fatalf("unexpected network passphrase %q", cfg.LedgerNetworkPassphrase)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", " 9100 ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesRedisURLAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REDIS_URL")
	setEnvWithCleanup(t, "DISBURSEMENT_REDIS_URL", " redis://cache:6379/2 ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RedisURL != "redis://cache:6379/2" {
		t.Fatalf("expected RedisURL from alias env var, got %q", cfg.RedisURL)
	}
}

func TestLoadConfig_ClampsOutOfRangeValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "LEDGER_BASE_FEE", "10")
	setEnvWithCleanup(t, "LEDGER_TX_VALIDITY_SECONDS", "86400")
	setEnvWithCleanup(t, "LEDGER_CALL_TIMEOUT_SECONDS", "0")
	setEnvWithCleanup(t, "DEFAULT_APPROVAL_THRESHOLD", "0")
	setEnvWithCleanup(t, "RECONCILE_STALE_AFTER_SECONDS", "-5")
	setEnvWithCleanup(t, "ACTION_RATE_LIMIT_PER_MINUTE", "-1")
	setEnvWithCleanup(t, "LOCK_PREFIX", "   ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LedgerBaseFee != 100 {
		t.Fatalf("expected base fee raised to 100, got %d", cfg.LedgerBaseFee)
	}
	if cfg.LedgerTxValiditySeconds != 3600 {
		t.Fatalf("expected validity capped at 3600, got %d", cfg.LedgerTxValiditySeconds)
	}
	if cfg.LedgerCallTimeout() != 20*time.Second {
		t.Fatalf("expected default call timeout, got %s", cfg.LedgerCallTimeout())
	}
	if cfg.DefaultApprovalThreshold != 2 {
		t.Fatalf("expected threshold reset to 2, got %d", cfg.DefaultApprovalThreshold)
	}
	if cfg.ReconcileStaleAfter() != 2*time.Minute {
		t.Fatalf("expected stale-after reset to 2m, got %s", cfg.ReconcileStaleAfter())
	}
	if cfg.ActionRateLimitPerMinute != 0 {
		t.Fatalf("expected negative rate limit to disable limiting, got %d", cfg.ActionRateLimitPerMinute)
	}
	if cfg.LockPrefix != "disbursement:lock" {
		t.Fatalf("expected blank lock prefix to fall back, got %q", cfg.LockPrefix)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "LEDGER_GATEWAY_URL")
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")
	dir := t.TempDir()
	content := "LEDGER_GATEWAY_URL=https://horizon.example.org/\nCORS_ALLOWED_ORIGINS=https://a.example, ,https://b.example\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LedgerGatewayURL != "https://horizon.example.org" {
		t.Fatalf("expected trimmed gateway URL from .env, got %q", cfg.LedgerGatewayURL)
	}
	want := []string{"https://a.example", "https://b.example"}
	if got := cfg.AllowedOrigins(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected origins %v, got %v", want, got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
