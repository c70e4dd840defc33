package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
	"github.com/arutyunov/foundry-proxy/internal/constants"
	"github.com/arutyunov/foundry-proxy/internal/utils"
	"go.uber.org/zap"
)

// HTTPDoer executes HTTP requests, allowing the proxy to abstract the underlying HTTP client.
type HTTPDoer interface {
	Do(httpRequest *http.Request) (*http.Response, error)
}

// HTTPClient is the default HTTPDoer implementation that delegates to http.DefaultClient.
var HTTPClient HTTPDoer = http.DefaultClient

const (
	imdsTokenURL        = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion      = "2018-02-01"
	appServiceVersion   = "2019-08-01"
	scopeDefaultSuffix  = "/.default"
	queryParamResource  = "resource"
	queryParamVersion   = "api-version"
	metadataHeaderValue = "true"
)

// cachedCredential is the process-wide bearer credential. Replaced wholesale
// on refresh, never partially mutated.
type cachedCredential struct {
	token     string
	expiresAt time.Time
}

// refreshCall is one in-flight acquisition shared by every caller that
// arrived while it was running.
type refreshCall struct {
	done       chan struct{}
	credential cachedCredential
	err        error
}

// CredentialCache obtains and caches the Entra bearer token for the upstream
// endpoint. Reads of a valid credential take the fast path; refreshes are
// single-flight, so concurrent callers during a refresh await one acquisition
// instead of issuing their own.
type CredentialCache struct {
	acquire func(requestContext context.Context) (cachedCredential, error)
	now     func() time.Time

	accessMutex sync.Mutex
	current     cachedCredential
	inflight    *refreshCall
}

// NewCredentialCache builds a cache that acquires tokens from the host
// managed-identity mechanism described by the configuration.
func NewCredentialCache(config Configuration, structuredLogger *zap.SugaredLogger) *CredentialCache {
	return &CredentialCache{
		acquire: newManagedIdentityAcquirer(config, structuredLogger),
		now:     time.Now,
	}
}

// Token returns the current bearer token, refreshing first when the cached
// credential is absent or within the expiry margin.
func (cache *CredentialCache) Token(requestContext context.Context) (string, error) {
	cache.accessMutex.Lock()
	if cache.current.token != "" && cache.now().Add(tokenExpiryMargin).Before(cache.current.expiresAt) {
		currentToken := cache.current.token
		cache.accessMutex.Unlock()
		return currentToken, nil
	}
	return cache.refreshLocked(requestContext)
}

// ForceRefresh discards the cached credential and acquires a fresh one. Used
// after the upstream rejects a previously-valid-looking token.
func (cache *CredentialCache) ForceRefresh(requestContext context.Context) (string, error) {
	cache.accessMutex.Lock()
	cache.current = cachedCredential{}
	return cache.refreshLocked(requestContext)
}

// refreshLocked performs or joins a single-flight acquisition. The caller must
// hold accessMutex; it is released before any blocking work.
func (cache *CredentialCache) refreshLocked(requestContext context.Context) (string, error) {
	call := cache.inflight
	if call == nil {
		call = &refreshCall{done: make(chan struct{})}
		cache.inflight = call
		cache.accessMutex.Unlock()

		credential, acquireError := cache.acquire(requestContext)

		cache.accessMutex.Lock()
		if acquireError == nil {
			cache.current = credential
		}
		call.credential = credential
		call.err = acquireError
		cache.inflight = nil
		cache.accessMutex.Unlock()
		close(call.done)
	} else {
		cache.accessMutex.Unlock()
		select {
		case <-call.done:
		case <-requestContext.Done():
			return constants.EmptyString, requestContext.Err()
		}
	}

	if call.err != nil {
		return constants.EmptyString, call.err
	}
	return call.credential.token, nil
}

// newManagedIdentityAcquirer builds the acquisition function for the
// configured identity mechanism: the App Service MSI endpoint when one is
// provided, the IMDS endpoint otherwise.
func newManagedIdentityAcquirer(config Configuration, structuredLogger *zap.SugaredLogger) func(context.Context) (cachedCredential, error) {
	tokenEndpoint := strings.TrimSpace(config.IdentityEndpoint)
	apiVersion := appServiceVersion
	requestHeaders := map[string]string{headerIdentitySecret: config.IdentityHeader}
	if tokenEndpoint == "" {
		tokenEndpoint = imdsTokenURL
		apiVersion = imdsAPIVersion
		requestHeaders = map[string]string{headerMetadata: metadataHeaderValue}
	}
	resource := strings.TrimSuffix(config.tokenScope(), scopeDefaultSuffix)

	return func(requestContext context.Context) (cachedCredential, error) {
		requestQuery := url.Values{}
		requestQuery.Set(queryParamVersion, apiVersion)
		requestQuery.Set(queryParamResource, resource)
		requestURL := tokenEndpoint + "?" + requestQuery.Encode()

		httpRequest, buildError := utils.BuildHTTPRequestWithHeaders(requestContext, http.MethodGet, requestURL, nil, requestHeaders)
		if buildError != nil {
			return cachedCredential{}, fmt.Errorf("%w: %v", apperrors.ErrUpstreamAuth, buildError)
		}

		statusCode, responseBytes, _, requestError := utils.PerformHTTPRequest(HTTPClient.Do, httpRequest, structuredLogger, logEventTokenAcquireFailed)
		if requestError != nil {
			return cachedCredential{}, fmt.Errorf("%w: %v", apperrors.ErrUpstreamAuth, requestError)
		}
		if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
			structuredLogger.Errorw(logEventTokenAcquireFailed, logFieldStatus, statusCode)
			return cachedCredential{}, fmt.Errorf("%w: identity endpoint status %d", apperrors.ErrUpstreamAuth, statusCode)
		}

		var tokenPayload struct {
			AccessToken string `json:"access_token"`
			ExpiresOn   any    `json:"expires_on"`
		}
		if unmarshalError := json.Unmarshal(responseBytes, &tokenPayload); unmarshalError != nil {
			return cachedCredential{}, fmt.Errorf("%w: %v", apperrors.ErrUpstreamAuth, unmarshalError)
		}
		if utils.IsBlank(tokenPayload.AccessToken) {
			return cachedCredential{}, fmt.Errorf("%w: empty access token", apperrors.ErrUpstreamAuth)
		}
		expiresAt, expiryError := parseExpiresOn(tokenPayload.ExpiresOn)
		if expiryError != nil {
			return cachedCredential{}, fmt.Errorf("%w: %v", apperrors.ErrUpstreamAuth, expiryError)
		}

		structuredLogger.Debugw(logEventTokenAcquired, jsonFieldExpiresOn, expiresAt)
		return cachedCredential{token: tokenPayload.AccessToken, expiresAt: expiresAt}, nil
	}
}

// parseExpiresOn accepts the expires_on field as either a unix-seconds number
// or a numeric string; both appear in managed-identity responses.
func parseExpiresOn(rawValue any) (time.Time, error) {
	switch typedValue := rawValue.(type) {
	case float64:
		return time.Unix(int64(typedValue), 0), nil
	case string:
		parsedSeconds, parseError := strconv.ParseInt(strings.TrimSpace(typedValue), 10, 64)
		if parseError != nil {
			return time.Time{}, fmt.Errorf("parse expires_on: %v", parseError)
		}
		return time.Unix(parsedSeconds, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected expires_on type %T", rawValue)
	}
}
