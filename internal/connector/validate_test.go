package connector

import (
	"strings"
	"testing"

	"github.com/leftbrainit/supasaasy/internal/config"
)

func testMeta() Metadata {
	return Metadata{
		Name:        "testprov",
		DisplayName: "Test Provider",
		Version:     "1.0.0",
		SupportedResources: []SupportedResource{
			{ResourceType: "customer", CollectionKey: "testprov_customer", SupportsIncremental: true, SupportsWebhooks: true},
			{ResourceType: "invoice", CollectionKey: "testprov_invoice", SupportsIncremental: true, SupportsWebhooks: true},
		},
	}
}

func envBackedApp(t *testing.T) *config.AppConfig {
	t.Helper()
	t.Setenv("TEST_API_KEY", "sk_test_123")
	t.Setenv("TEST_WEBHOOK_SECRET", "whsec_123")
	return &config.AppConfig{
		AppKey:    "acme",
		Connector: "testprov",
		Config: config.AppConfigValues{
			APIKeyEnv:        "TEST_API_KEY",
			WebhookSecretEnv: "TEST_WEBHOOK_SECRET",
		},
	}
}

func hasMention(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestValidateAppConfigEnvBacked(t *testing.T) {
	res := ValidateAppConfig(testMeta(), envBackedApp(t), true)
	if !res.OK() {
		t.Errorf("expected valid config, got errors: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", res.Warnings)
	}
}

func TestValidateAppConfigMissingEnvVar(t *testing.T) {
	app := envBackedApp(t)
	app.Config.APIKeyEnv = "TEST_UNSET_VAR"

	res := ValidateAppConfig(testMeta(), app, false)
	if res.OK() {
		t.Fatal("expected error for unset env var")
	}
	if !hasMention(res.Errors, "TEST_UNSET_VAR") {
		t.Errorf("error should name the missing variable: %v", res.Errors)
	}
}

func TestValidateAppConfigDirectSecret(t *testing.T) {
	app := &config.AppConfig{
		AppKey:    "acme",
		Connector: "testprov",
		Config: config.AppConfigValues{
			APIKey:        "sk_live_direct",
			WebhookSecret: "whsec_direct",
		},
	}

	// Development: usable, but warned.
	res := ValidateAppConfig(testMeta(), app, false)
	if !res.OK() {
		t.Errorf("direct secrets should pass outside production: %v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", res.Warnings)
	}

	// Production: rejected.
	res = ValidateAppConfig(testMeta(), app, true)
	if res.OK() {
		t.Fatal("direct secrets must be rejected in production")
	}
	if !hasMention(res.Errors, "api_key") || !hasMention(res.Errors, "webhook_secret") {
		t.Errorf("errors should name both fields: %v", res.Errors)
	}
}

func TestValidateAppConfigNoSecret(t *testing.T) {
	app := &config.AppConfig{AppKey: "acme", Connector: "testprov"}

	res := ValidateAppConfig(testMeta(), app, false)
	if res.OK() {
		t.Fatal("expected errors when no secrets are configured")
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", res.Errors)
	}
}

func TestValidateAppConfigUnknownResource(t *testing.T) {
	app := envBackedApp(t)
	app.Config.SyncResources = []string{"customer", "timesheet"}

	res := ValidateAppConfig(testMeta(), app, false)
	if res.OK() {
		t.Fatal("expected error for unsupported resource type")
	}
	if !hasMention(res.Errors, "timesheet") {
		t.Errorf("error should name the bad resource: %v", res.Errors)
	}
}

func TestValidateAppConfigSyncFrom(t *testing.T) {
	app := envBackedApp(t)
	app.Config.SyncFrom = "2026-01-01T00:00:00Z"
	if res := ValidateAppConfig(testMeta(), app, false); !res.OK() {
		t.Errorf("valid sync_from rejected: %v", res.Errors)
	}

	app.Config.SyncFrom = "last tuesday"
	res := ValidateAppConfig(testMeta(), app, false)
	if res.OK() {
		t.Fatal("expected error for malformed sync_from")
	}
	if !hasMention(res.Errors, "sync_from") {
		t.Errorf("error should name sync_from: %v", res.Errors)
	}
}
