package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot express.
// An empty database URL is valid here: only the stages that need a database
// require one (see RequireDatabase).
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Probe.MaxInterval < cfg.Probe.Interval {
		return fmt.Errorf("probe.max_interval (%s) must be >= probe.interval (%s)",
			cfg.Probe.MaxInterval, cfg.Probe.Interval)
	}
	if cfg.Database.URL != "" {
		if err := validateDatabaseURL(cfg.Database.URL); err != nil {
			return err
		}
	}
	if len(cfg.Service.Command) > 0 && strings.TrimSpace(cfg.Service.Command[0]) == "" {
		return errors.New("service.command: program name is empty")
	}
	return nil
}

// RequireDatabase reports an error when no usable database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set %s or DATABASE_URL)", envName("database.url"))
	}
	return validateDatabaseURL(c.Database.URL)
}

func validateDatabaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("database.url: %w", err)
	}
	d := DatabaseConfig{URL: raw}
	switch d.Driver() {
	case "postgres":
		if u.Host == "" {
			return errors.New("database.url: missing host")
		}
	case "sqlite":
		if u.Path == "" && u.Host == "" {
			return errors.New("database.url: missing sqlite file path")
		}
	default:
		return fmt.Errorf("database.url: unsupported scheme %q (want postgres, postgresql, sqlite, sqlite3)", u.Scheme)
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
