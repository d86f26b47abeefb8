package config

import (
	"strings"
	"testing"
)

const sampleApps = `
apps:
  - app_key: acme-stripe
    name: Acme Stripe
    connector: stripe
    config:
      api_key_env: ACME_STRIPE_KEY
      webhook_secret_env: ACME_STRIPE_WHSEC
      sync_resources: [customer, invoice]
      sync_from: "2026-01-01T00:00:00Z"
  - app_key: acme-notion
    connector: notion
    config:
      api_key: secret_dev
      webhook_secret: tok_dev
sync_schedules:
  - app_key: acme-stripe
    cron: "0 3 * * *"
    enabled: true
webhook_logging:
  enabled: true
auth:
  enabled: true
`

func TestParseApps(t *testing.T) {
	f, err := ParseApps([]byte(sampleApps))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(f.Apps) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(f.Apps))
	}

	app := f.App("acme-stripe")
	if app == nil {
		t.Fatal("expected acme-stripe app")
	}
	if app.Connector != "stripe" || app.Config.APIKeyEnv != "ACME_STRIPE_KEY" {
		t.Errorf("unexpected app: %+v", app)
	}
	if len(app.Config.SyncResources) != 2 {
		t.Errorf("sync_resources not parsed: %v", app.Config.SyncResources)
	}
	if app.Config.SyncFrom != "2026-01-01T00:00:00Z" {
		t.Errorf("sync_from not parsed: %q", app.Config.SyncFrom)
	}

	if !f.WebhookLogging.Enabled || !f.Auth.Enabled {
		t.Error("toggles not parsed")
	}
	if len(f.SyncSchedules) != 1 || f.SyncSchedules[0].Cron != "0 3 * * *" {
		t.Errorf("schedules not parsed: %+v", f.SyncSchedules)
	}

	if f.App("nobody") != nil {
		t.Error("unknown app key should resolve to nil")
	}
}

func TestParseAppsRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"bad app key",
			"apps:\n  - app_key: \"has space\"\n    connector: stripe\n",
			"invalid app_key",
		},
		{
			"duplicate app key",
			"apps:\n  - app_key: a\n    connector: stripe\n  - app_key: a\n    connector: notion\n",
			"duplicate app_key",
		},
		{
			"missing connector",
			"apps:\n  - app_key: a\n",
			"connector is required",
		},
		{
			"schedule for unknown app",
			"apps:\n  - app_key: a\n    connector: stripe\nsync_schedules:\n  - app_key: ghost\n    cron: \"* * * * *\"\n",
			"unknown app_key",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseApps([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestValidAppKey(t *testing.T) {
	for _, ok := range []string{"acme", "acme-stripe", "Acme_1"} {
		if !ValidAppKey(ok) {
			t.Errorf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"", "has space", "slash/key", "dot.key", "q?x"} {
		if ValidAppKey(bad) {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("RESOLVE_TEST_KEY", "from-env")
	v := AppConfigValues{APIKeyEnv: "RESOLVE_TEST_KEY", APIKey: "direct"}
	if got := v.ResolveAPIKey(); got != "from-env" {
		t.Errorf("env reference should win: %q", got)
	}

	v = AppConfigValues{APIKey: "direct"}
	if got := v.ResolveAPIKey(); got != "direct" {
		t.Errorf("direct value fallback: %q", got)
	}

	w := AppConfigValues{WebhookSecretEnv: "RESOLVE_TEST_KEY"}
	if got := w.ResolveWebhookSecret(); got != "from-env" {
		t.Errorf("webhook secret env reference: %q", got)
	}
}
