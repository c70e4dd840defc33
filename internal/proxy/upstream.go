package proxy

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/arutyunov/foundry-proxy/internal/utils"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const chatCompletionsPath = "/chat/completions"

// buildChatRequest constructs the authorized upstream chat-completions request.
func buildChatRequest(requestContext context.Context, upstreamURL string, bearerToken string, payloadBytes []byte) (*http.Request, error) {
	httpRequest, buildError := http.NewRequestWithContext(requestContext, http.MethodPost, upstreamURL, bytes.NewReader(payloadBytes))
	if buildError != nil {
		return nil, buildError
	}
	httpRequest.Header.Set(headerAuthorization, headerAuthorizationPrefix+bearerToken)
	httpRequest.Header.Set(headerContentType, mimeApplicationJSON)
	return httpRequest, nil
}

// performChatRequest issues a buffered upstream call, retrying transport
// failures, server errors (5xx), and rate limit responses (429) with
// exponential backoff. A 401 is returned to the caller unretried so the
// handler can apply the single forced token refresh.
func performChatRequest(requestContext context.Context, upstreamURL string, bearerToken string, payloadBytes []byte, structuredLogger *zap.SugaredLogger) (int, []byte, error) {
	httpRequest, buildError := buildChatRequest(requestContext, upstreamURL, bearerToken, payloadBytes)
	if buildError != nil {
		return 0, nil, buildError
	}

	var statusCode int
	var responseBytes []byte
	operation := func() error {
		var transportError error
		statusCode, responseBytes, _, transportError = utils.PerformHTTPRequest(HTTPClient.Do, httpRequest, structuredLogger, logEventUpstreamRequestError)
		if transportError != nil {
			return transportError
		}
		if statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests {
			return errors.New(errorUpstreamRequest)
		}
		return nil
	}
	retryStrategy := utils.AcquireExponentialBackoff()
	defer utils.ReleaseExponentialBackoff(retryStrategy)
	retryError := backoff.Retry(operation, backoff.WithContext(retryStrategy, requestContext))
	return statusCode, responseBytes, retryError
}

// openChatStream issues the streaming upstream call and hands back the open
// response. Streams are not retried; the caller owns closing the body.
func openChatStream(requestContext context.Context, upstreamURL string, bearerToken string, payloadBytes []byte) (*http.Response, error) {
	httpRequest, buildError := buildChatRequest(requestContext, upstreamURL, bearerToken, payloadBytes)
	if buildError != nil {
		return nil, buildError
	}
	return HTTPClient.Do(httpRequest)
}
