package proxy_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arutyunov/foundry-proxy/internal/proxy"
	"go.uber.org/zap"
)

const (
	identityHeaderValue  = "identity-secret"
	concurrentTokenCalls = 16
)

// newIdentityServer returns a fake managed-identity endpoint that counts
// acquisitions and serves tokens named by acquisition ordinal.
func newIdentityServer(acquisitionCount *atomic.Int64, tokenLifetime time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, httpRequest *http.Request) {
		ordinal := acquisitionCount.Add(1)
		// A short delay widens the window in which concurrent callers must
		// join the in-flight acquisition instead of starting their own.
		time.Sleep(50 * time.Millisecond)
		responseWriter.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(responseWriter, `{"access_token":"token-%d","expires_on":"%d"}`, ordinal, time.Now().Add(tokenLifetime).Unix())
	}))
}

func newTestCredentialCache(testingInstance *testing.T, identityURL string) *proxy.CredentialCache {
	testingInstance.Helper()
	loggerInstance, _ := zap.NewDevelopment()
	testingInstance.Cleanup(func() { _ = loggerInstance.Sync() })
	return proxy.NewCredentialCache(proxy.Configuration{
		IdentityEndpoint: identityURL,
		IdentityHeader:   identityHeaderValue,
	}, loggerInstance.Sugar())
}

// TestCredentialCacheSingleFlight verifies that concurrent callers during one
// refresh all observe the same token from exactly one acquisition.
func TestCredentialCacheSingleFlight(testingInstance *testing.T) {
	var acquisitionCount atomic.Int64
	identityServer := newIdentityServer(&acquisitionCount, time.Hour)
	testingInstance.Cleanup(identityServer.Close)

	credentialCache := newTestCredentialCache(testingInstance, identityServer.URL)

	observedTokens := make([]string, concurrentTokenCalls)
	var callerGroup sync.WaitGroup
	for callerIndex := 0; callerIndex < concurrentTokenCalls; callerIndex++ {
		callerGroup.Add(1)
		go func(slot int) {
			defer callerGroup.Done()
			token, tokenError := credentialCache.Token(context.Background())
			if tokenError != nil {
				testingInstance.Errorf("Token error: %v", tokenError)
				return
			}
			observedTokens[slot] = token
		}(callerIndex)
	}
	callerGroup.Wait()

	if actualAcquisitions := acquisitionCount.Load(); actualAcquisitions != 1 {
		testingInstance.Fatalf("acquisitions=%d want=1", actualAcquisitions)
	}
	for slot, token := range observedTokens {
		if token != "token-1" {
			testingInstance.Fatalf("caller %d observed token=%q want=%q", slot, token, "token-1")
		}
	}
}

// TestCredentialCacheReusesValidToken verifies the fast path: a second call
// with a fresh credential performs no acquisition.
func TestCredentialCacheReusesValidToken(testingInstance *testing.T) {
	var acquisitionCount atomic.Int64
	identityServer := newIdentityServer(&acquisitionCount, time.Hour)
	testingInstance.Cleanup(identityServer.Close)

	credentialCache := newTestCredentialCache(testingInstance, identityServer.URL)

	firstToken, firstError := credentialCache.Token(context.Background())
	if firstError != nil {
		testingInstance.Fatalf("Token error: %v", firstError)
	}
	secondToken, secondError := credentialCache.Token(context.Background())
	if secondError != nil {
		testingInstance.Fatalf("Token error: %v", secondError)
	}
	if firstToken != secondToken {
		testingInstance.Fatalf("tokens differ: %q vs %q", firstToken, secondToken)
	}
	if actualAcquisitions := acquisitionCount.Load(); actualAcquisitions != 1 {
		testingInstance.Fatalf("acquisitions=%d want=1", actualAcquisitions)
	}
}

// TestCredentialCacheRefreshesNearExpiry verifies that a token inside the
// expiry margin is replaced on the next call.
func TestCredentialCacheRefreshesNearExpiry(testingInstance *testing.T) {
	var acquisitionCount atomic.Int64
	// Lifetime shorter than the 300 s refresh margin, so every call refreshes.
	identityServer := newIdentityServer(&acquisitionCount, time.Minute)
	testingInstance.Cleanup(identityServer.Close)

	credentialCache := newTestCredentialCache(testingInstance, identityServer.URL)

	firstToken, _ := credentialCache.Token(context.Background())
	secondToken, _ := credentialCache.Token(context.Background())
	if firstToken == secondToken {
		testingInstance.Fatalf("expected refreshed token, both calls returned %q", firstToken)
	}
	if actualAcquisitions := acquisitionCount.Load(); actualAcquisitions != 2 {
		testingInstance.Fatalf("acquisitions=%d want=2", actualAcquisitions)
	}
}

// TestCredentialCacheForceRefresh verifies that ForceRefresh discards a still
// valid credential.
func TestCredentialCacheForceRefresh(testingInstance *testing.T) {
	var acquisitionCount atomic.Int64
	identityServer := newIdentityServer(&acquisitionCount, time.Hour)
	testingInstance.Cleanup(identityServer.Close)

	credentialCache := newTestCredentialCache(testingInstance, identityServer.URL)

	firstToken, _ := credentialCache.Token(context.Background())
	refreshedToken, refreshError := credentialCache.ForceRefresh(context.Background())
	if refreshError != nil {
		testingInstance.Fatalf("ForceRefresh error: %v", refreshError)
	}
	if firstToken == refreshedToken {
		testingInstance.Fatalf("expected a new token after forced refresh, got %q twice", firstToken)
	}
	if actualAcquisitions := acquisitionCount.Load(); actualAcquisitions != 2 {
		testingInstance.Fatalf("acquisitions=%d want=2", actualAcquisitions)
	}
}

// TestCredentialCacheUnreachableIdentityProvider verifies that acquisition
// failures surface as errors rather than empty tokens.
func TestCredentialCacheUnreachableIdentityProvider(testingInstance *testing.T) {
	identityServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, httpRequest *http.Request) {
		responseWriter.WriteHeader(http.StatusInternalServerError)
	}))
	testingInstance.Cleanup(identityServer.Close)

	credentialCache := newTestCredentialCache(testingInstance, identityServer.URL)

	requestContext, cancelRequest := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelRequest()
	if _, tokenError := credentialCache.Token(requestContext); tokenError == nil {
		testingInstance.Fatal("expected an error from an unreachable identity provider")
	}
}
