package utils_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/arutyunov/foundry-proxy/internal/utils"
	"go.uber.org/zap"
)

const (
	httpMethodGet      = "GET"
	requestURLExample  = "http://example.com"
	headerNameExample  = "X-Test-Header"
	headerValueExample = "header-value"
	invalidRequestURL  = "://bad-url"
	bodyContent        = "body"
	flakyResponseBody  = "recovered"
	logEventTransport  = "transport_error"
)

type buildHTTPRequestTestDefinition struct {
	testName            string
	method              string
	requestURL          string
	headers             map[string]string
	expectError         bool
	expectedHeaderValue string
}

// TestBuildHTTPRequestWithHeaders_ConstructsRequests verifies that BuildHTTPRequestWithHeaders creates requests and applies headers.
func TestBuildHTTPRequestWithHeaders_ConstructsRequests(testingInstance *testing.T) {
	testCases := []buildHTTPRequestTestDefinition{
		{
			testName:            "valid request",
			method:              httpMethodGet,
			requestURL:          requestURLExample,
			headers:             map[string]string{headerNameExample: headerValueExample},
			expectError:         false,
			expectedHeaderValue: headerValueExample,
		},
		{
			testName:    "invalid url",
			method:      httpMethodGet,
			requestURL:  invalidRequestURL,
			headers:     map[string]string{},
			expectError: true,
		},
	}
	for _, currentTestCase := range testCases {
		testingInstance.Run(currentTestCase.testName, func(nestedTestingInstance *testing.T) {
			httpRequest, buildRequestError := utils.BuildHTTPRequestWithHeaders(context.Background(), currentTestCase.method, currentTestCase.requestURL, bytes.NewBufferString(bodyContent), currentTestCase.headers)
			if currentTestCase.expectError {
				if buildRequestError == nil {
					nestedTestingInstance.Fatalf("expected error but got none")
				}
				return
			}
			if buildRequestError != nil {
				nestedTestingInstance.Fatalf("unexpected error: %v", buildRequestError)
			}
			headerValue := httpRequest.Header.Get(headerNameExample)
			if headerValue != currentTestCase.expectedHeaderValue {
				nestedTestingInstance.Fatalf("header value=%s expected=%s", headerValue, currentTestCase.expectedHeaderValue)
			}
		})
	}
}

// TestPerformHTTPRequest_RetriesTransportFailures verifies that PerformHTTPRequest
// retries a failing round trip and returns the eventual response.
func TestPerformHTTPRequest_RetriesTransportFailures(testingInstance *testing.T) {
	var attemptCount atomic.Int64
	testServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, httpRequest *http.Request) {
		responseWriter.Write([]byte(flakyResponseBody))
	}))
	defer testServer.Close()

	failingDoer := func(httpRequest *http.Request) (*http.Response, error) {
		if attemptCount.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return http.DefaultClient.Do(httpRequest)
	}

	httpRequest, buildRequestError := utils.BuildHTTPRequestWithHeaders(context.Background(), httpMethodGet, testServer.URL, nil, nil)
	if buildRequestError != nil {
		testingInstance.Fatalf("unexpected error: %v", buildRequestError)
	}
	statusCode, responseBytes, _, performError := utils.PerformHTTPRequest(failingDoer, httpRequest, zap.NewNop().Sugar(), logEventTransport)
	if performError != nil {
		testingInstance.Fatalf("unexpected error: %v", performError)
	}
	if statusCode != http.StatusOK {
		testingInstance.Fatalf("status=%d expected=%d", statusCode, http.StatusOK)
	}
	if string(responseBytes) != flakyResponseBody {
		testingInstance.Fatalf("body=%s expected=%s", string(responseBytes), flakyResponseBody)
	}
	if attemptCount.Load() < 2 {
		testingInstance.Fatalf("attempts=%d expected at least 2", attemptCount.Load())
	}
}
