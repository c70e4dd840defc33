// Package apperrors defines the sentinel errors surfaced by foundry-proxy.
package apperrors

import "errors"

var (
	// ErrMissingProxySecret indicates that the shared proxy secret was not configured.
	ErrMissingProxySecret = errors.New("PROXY_SECRET must be set")

	// ErrNoModelsConfigured indicates that neither a registry file nor an env fallback model is available.
	ErrNoModelsConfigured = errors.New("no models configured")

	// ErrUnauthorized indicates a missing or invalid shared secret on an inbound request.
	ErrUnauthorized = errors.New("missing or invalid proxy credentials")

	// ErrModelNotFound indicates that the requested model identifier is not registered.
	ErrModelNotFound = errors.New("unknown model")

	// ErrInvalidRequest indicates a malformed chat completion request body.
	ErrInvalidRequest = errors.New("invalid request body")

	// ErrUpstreamTimeout indicates that the upstream did not respond within the configured bound.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamAuth indicates that the identity token was rejected even after a forced refresh.
	ErrUpstreamAuth = errors.New("upstream rejected identity token")

	// ErrUpstreamProtocol indicates an unexpected upstream response shape.
	ErrUpstreamProtocol = errors.New("unexpected upstream response")
)
