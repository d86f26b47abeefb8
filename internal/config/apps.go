package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// appKeyPattern constrains caller-chosen app keys; they appear in URLs.
var appKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidAppKey reports whether s is an acceptable app_key.
func ValidAppKey(s string) bool {
	return appKeyPattern.MatchString(s)
}

// AppsFile is the root of the YAML app configuration.
type AppsFile struct {
	Apps           []AppConfig    `yaml:"apps"`
	SyncSchedules  []SyncSchedule `yaml:"sync_schedules"`
	WebhookLogging ToggleConfig   `yaml:"webhook_logging"`
	Auth           ToggleConfig   `yaml:"auth"`
}

// AppConfig describes one connected SaaS instance.
type AppConfig struct {
	AppKey    string          `yaml:"app_key"`
	Name      string          `yaml:"name"`
	Connector string          `yaml:"connector"`
	Config    AppConfigValues `yaml:"config"`
}

// AppConfigValues holds the per-app connector settings. Secrets are
// normally referenced via *_env fields; the direct fields exist for local
// development and are rejected in production.
type AppConfigValues struct {
	APIKeyEnv        string   `yaml:"api_key_env"`
	APIKey           string   `yaml:"api_key"`
	WebhookSecretEnv string   `yaml:"webhook_secret_env"`
	WebhookSecret    string   `yaml:"webhook_secret"`
	SyncFrom         string   `yaml:"sync_from"`
	SyncResources    []string `yaml:"sync_resources"`
}

// SyncSchedule triggers a scheduled incremental sync for one app.
type SyncSchedule struct {
	AppKey  string `yaml:"app_key"`
	Cron    string `yaml:"cron"`
	Enabled bool   `yaml:"enabled"`
}

// ToggleConfig is a simple enabled/disabled switch.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadApps reads and validates the YAML app configuration file.
func LoadApps(path string) (*AppsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app config %s: %w", path, err)
	}
	return ParseApps(data)
}

// ParseApps parses the YAML app configuration.
func ParseApps(data []byte) (*AppsFile, error) {
	var f AppsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse app config: %w", err)
	}

	seen := make(map[string]bool, len(f.Apps))
	for i := range f.Apps {
		app := &f.Apps[i]
		if !ValidAppKey(app.AppKey) {
			return nil, fmt.Errorf("apps[%d]: invalid app_key %q", i, app.AppKey)
		}
		if seen[app.AppKey] {
			return nil, fmt.Errorf("apps[%d]: duplicate app_key %q", i, app.AppKey)
		}
		seen[app.AppKey] = true
		if app.Connector == "" {
			return nil, fmt.Errorf("apps[%d] (%s): connector is required", i, app.AppKey)
		}
	}
	for i, s := range f.SyncSchedules {
		if !seen[s.AppKey] {
			return nil, fmt.Errorf("sync_schedules[%d]: unknown app_key %q", i, s.AppKey)
		}
	}

	return &f, nil
}

// App returns the configuration for an app_key, or nil.
func (f *AppsFile) App(appKey string) *AppConfig {
	for i := range f.Apps {
		if f.Apps[i].AppKey == appKey {
			return &f.Apps[i]
		}
	}
	return nil
}

// ResolveAPIKey returns the provider API key, preferring the env-backed
// reference over a direct value.
func (v *AppConfigValues) ResolveAPIKey() string {
	if v.APIKeyEnv != "" {
		return os.Getenv(v.APIKeyEnv)
	}
	return v.APIKey
}

// ResolveWebhookSecret returns the webhook signing secret, preferring the
// env-backed reference over a direct value.
func (v *AppConfigValues) ResolveWebhookSecret() string {
	if v.WebhookSecretEnv != "" {
		return os.Getenv(v.WebhookSecretEnv)
	}
	return v.WebhookSecret
}
