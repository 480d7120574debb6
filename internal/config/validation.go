package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness.
func validate(cfg *FileConfig) error {
	var errs []string

	if cfg.TunnelDomain == "" {
		errs = append(errs, "tunnel_domain is required")
	} else if strings.Contains(cfg.TunnelDomain, "://") {
		errs = append(errs, fmt.Sprintf("tunnel_domain %q must be a bare domain, not a URL", cfg.TunnelDomain))
	}

	if cfg.ProjectID == "" {
		errs = append(errs, "project_id is required")
	}

	if cfg.SessionIssuer == "" {
		errs = append(errs, "session_issuer is required")
	} else if err := validateURL(cfg.SessionIssuer); err != nil {
		errs = append(errs, fmt.Sprintf("session_issuer: %v", err))
	}

	if cfg.AuthDomain == "" && cfg.OAuthJWKSURL == "" {
		errs = append(errs, "auth_domain or oauth_jwks_url is required")
	}

	if cfg.ExternalURL == "" {
		errs = append(errs, "external_url is required")
	} else if err := validateURL(cfg.ExternalURL); err != nil {
		errs = append(errs, fmt.Sprintf("external_url: %v", err))
	}

	for field, value := range map[string]string{
		"session_jwks_url": cfg.SessionJWKSURL,
		"oauth_jwks_url":   cfg.OAuthJWKSURL,
	} {
		if value == "" {
			continue
		}
		if err := validateURL(value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("invalid url %q (must be http or https)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q (missing host)", raw)
	}
	return nil
}
