package connector

import (
	"fmt"
	"os"
	"time"

	"github.com/leftbrainit/supasaasy/internal/config"
)

// ValidationResult carries field-named errors and warnings from app
// configuration validation. Errors make the app unusable; warnings do
// not, except in production where direct secrets are promoted to errors.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the configuration is usable.
func (v *ValidationResult) OK() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) errorf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// ValidateAppConfig performs the provider-agnostic checks shared by all
// connectors: secret resolution, resource type membership, and sync_from
// format. Connectors call this from their ValidateConfig and may append
// provider-specific checks.
func ValidateAppConfig(meta Metadata, app *config.AppConfig, production bool) ValidationResult {
	var res ValidationResult

	checkSecret(&res, "api_key", app.Config.APIKey, app.Config.APIKeyEnv, production)
	checkSecret(&res, "webhook_secret", app.Config.WebhookSecret, app.Config.WebhookSecretEnv, production)

	for _, rt := range app.Config.SyncResources {
		if meta.Resource(rt) == nil {
			res.errorf("sync_resources: resource type %q is not supported by connector %q", rt, meta.Name)
		}
	}

	if app.Config.SyncFrom != "" {
		if _, err := time.Parse(time.RFC3339, app.Config.SyncFrom); err != nil {
			res.errorf("sync_from: not a valid RFC 3339 timestamp: %q", app.Config.SyncFrom)
		}
	}

	return res
}

func checkSecret(res *ValidationResult, field, direct, envName string, production bool) {
	switch {
	case envName != "":
		if os.Getenv(envName) == "" {
			res.errorf("%s_env: environment variable %s is not set", field, envName)
		}
	case direct != "":
		if production {
			res.errorf("%s: direct secret values are not allowed in production, use %s_env", field, field)
		} else {
			res.warnf("%s: direct secret value in config file, prefer %s_env", field, field)
		}
	default:
		res.errorf("%s: no secret configured, set %s_env or %s", field, field, field)
	}
}
