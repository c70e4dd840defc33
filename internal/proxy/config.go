package proxy

import (
	"strings"
	"time"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
)

const (
	// DefaultPort is the TCP port used by the HTTP server when no explicit port is provided.
	DefaultPort = 8080
	// DefaultRequestTimeoutSeconds bounds each upstream call when no explicit timeout is provided.
	DefaultRequestTimeoutSeconds = 120
	// DefaultTokenScope is the Entra resource scope tokens are requested for.
	DefaultTokenScope = "https://cognitiveservices.azure.com/.default"
	// DefaultRegistryPath is where the model registry file is expected when no explicit path is provided.
	DefaultRegistryPath = "/app/config.yaml"

	// tokenExpiryMargin is how long before expiry a cached credential is refreshed.
	tokenExpiryMargin = 300 * time.Second
)

// Configuration captures runtime settings for the HTTP server, the model registry, and upstream requests.
type Configuration struct {
	ProxySecret           string
	RegistryPath          string
	Port                  int
	LogLevel              string
	RequestTimeoutSeconds int
	TokenScope            string

	// IdentityEndpoint and IdentityHeader override the host managed-identity
	// mechanism; when IdentityEndpoint is empty the IMDS endpoint is used.
	IdentityEndpoint string
	IdentityHeader   string

	// FallbackModelID and FallbackEndpoint describe a single model used when
	// the registry file is absent.
	FallbackModelID  string
	FallbackEndpoint string
}

// validateConfig confirms the presence of required configuration values.
func validateConfig(config Configuration) error {
	if strings.TrimSpace(config.ProxySecret) == "" {
		return apperrors.ErrMissingProxySecret
	}
	return nil
}

// requestTimeout returns the configured upstream timeout as a duration.
func (config Configuration) requestTimeout() time.Duration {
	seconds := config.RequestTimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultRequestTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// tokenScope returns the configured token scope, defaulting when blank.
func (config Configuration) tokenScope() string {
	if strings.TrimSpace(config.TokenScope) == "" {
		return DefaultTokenScope
	}
	return config.TokenScope
}
