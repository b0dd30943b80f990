package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Readiness.Mode = strings.ToLower(strings.TrimSpace(c.Readiness.Mode))
	c.Readiness.HealthURL = strings.TrimSpace(c.Readiness.HealthURL)
	c.Metrics.ListenAddr = strings.TrimSpace(c.Metrics.ListenAddr)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}

	if c.Timeouts.FetchSeconds <= 0 {
		errs = append(errs, errors.New("timeouts.fetch_seconds must be positive"))
	}
	if c.Timeouts.ReadySeconds <= 0 {
		errs = append(errs, errors.New("timeouts.ready_seconds must be positive"))
	}
	if c.Timeouts.StopSeconds <= 0 {
		errs = append(errs, errors.New("timeouts.stop_seconds must be positive"))
	}

	switch c.Readiness.Mode {
	case ReadinessStdout:
	case ReadinessHTTP:
		if c.Readiness.PollIntervalMS <= 0 {
			errs = append(errs, errors.New("readiness.poll_interval_ms must be positive"))
		}
		if c.Readiness.HealthURL != "" {
			u, err := url.Parse(c.Readiness.HealthURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("readiness.health_url: invalid URL %q", c.Readiness.HealthURL))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("readiness.mode: unsupported value %q", c.Readiness.Mode))
	}

	return errors.Join(errs...)
}
