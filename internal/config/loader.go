package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the top-level devgate.yaml structure.
type FileConfig struct {
	// TunnelDomain is the apex domain under which each device exposes
	// its tunnel subdomain, e.g. "devices.example.com" yields device
	// origins of the form https://{device_id}.devices.example.com.
	TunnelDomain string `yaml:"tunnel_domain"`

	// ProjectID identifies this deployment; it is the audience expected
	// in session tokens.
	ProjectID string `yaml:"project_id"`

	// SessionIssuer is the issuer of first-party session tokens. Its
	// JWKS endpoint defaults to {session_issuer}/.well-known/jwks.json.
	SessionIssuer  string `yaml:"session_issuer"`
	SessionJWKSURL string `yaml:"session_jwks_url,omitempty"`

	// AuthDomain hosts the OAuth authorization server whose access
	// tokens are the second accepted credential.
	AuthDomain   string `yaml:"auth_domain"`
	OAuthJWKSURL string `yaml:"oauth_jwks_url,omitempty"`

	// ExternalURL is the public origin of this gateway, used for the
	// protected-resource metadata document and WWW-Authenticate hints.
	ExternalURL string `yaml:"external_url"`

	// Tunnel service-token credentials attached to every device request.
	TunnelClientID   string `yaml:"tunnel_client_id"`
	TunnelSecretFile string `yaml:"tunnel_secret_file,omitempty"`
}

// LoadFile reads, parses, and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionJWKS returns the JWKS endpoint for session tokens.
func (c *FileConfig) SessionJWKS() string {
	if c.SessionJWKSURL != "" {
		return c.SessionJWKSURL
	}
	return strings.TrimSuffix(c.SessionIssuer, "/") + "/.well-known/jwks.json"
}

// OAuthJWKS returns the JWKS endpoint for OAuth access tokens.
func (c *FileConfig) OAuthJWKS() string {
	if c.OAuthJWKSURL != "" {
		return c.OAuthJWKSURL
	}
	return "https://" + c.AuthDomain + "/.well-known/jwks.json"
}

// OAuthIssuer returns the expected issuer of OAuth access tokens.
func (c *FileConfig) OAuthIssuer() string {
	return "https://" + c.AuthDomain
}
