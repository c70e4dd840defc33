package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const upstreamErrorBodyLimit = 500

// BuildRouter loads the model registry, wires the credential cache, and
// returns the configured gin engine.
func BuildRouter(config Configuration, structuredLogger *zap.SugaredLogger) (*gin.Engine, error) {
	if validationError := validateConfig(config); validationError != nil {
		return nil, validationError
	}

	registry, registryError := LoadModelRegistry(config, structuredLogger)
	if registryError != nil {
		return nil, registryError
	}
	credentialCache := NewCredentialCache(config, structuredLogger)

	if strings.ToLower(config.LogLevel) == LogLevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if lvl := strings.ToLower(config.LogLevel); lvl == LogLevelInfo || lvl == LogLevelDebug {
		router.Use(requestResponseLogger(structuredLogger))
	}
	router.Use(gin.Recovery())

	router.GET(routeHealth, healthHandler(registry))

	authenticated := router.Group("", sharedSecretMiddleware(config.ProxySecret, structuredLogger))
	authenticated.GET(routeModels, modelsHandler(registry))
	authenticated.POST(routeChatCompletions, chatCompletionsHandler(config, registry, credentialCache, structuredLogger))

	return router, nil
}

// Serve builds the router and starts the HTTP server.
func Serve(config Configuration, structuredLogger *zap.SugaredLogger) error {
	router, buildError := BuildRouter(config, structuredLogger)
	if buildError != nil {
		return buildError
	}
	port := config.Port
	if port <= 0 {
		port = DefaultPort
	}
	return router.Run(fmt.Sprintf(":%d", port))
}

// healthHandler reports liveness only; it never checks upstream reachability
// and is reachable without the shared secret.
func healthHandler(registry *ModelRegistry) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		publicIDs := make([]string, 0)
		for _, entry := range registry.List() {
			publicIDs = append(publicIDs, entry.PublicID)
		}
		ginContext.JSON(http.StatusOK, gin.H{
			jsonFieldStatus: statusValueOK,
			jsonFieldModels: publicIDs,
		})
	}
}

// modelsHandler returns the registered models in the OpenAI listing shape.
func modelsHandler(registry *ModelRegistry) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		listedModels := make([]gin.H, 0)
		for _, entry := range registry.List() {
			listedModels = append(listedModels, gin.H{
				"id":            entry.PublicID,
				jsonFieldObject: objectValueModel,
				"created":       0,
				"owned_by":      modelOwnerValue,
			})
		}
		ginContext.JSON(http.StatusOK, gin.H{
			jsonFieldObject: objectValueList,
			jsonFieldData:   listedModels,
		})
	}
}

// chatCompletionsHandler orchestrates one chat completion: resolve the model,
// translate the request, acquire a token, call upstream, and relay the
// buffered or streamed response with reasoning markup removed.
func chatCompletionsHandler(config Configuration, registry *ModelRegistry, credentialCache *CredentialCache, structuredLogger *zap.SugaredLogger) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		var chatRequest ChatRequest
		if bindError := ginContext.ShouldBindJSON(&chatRequest); bindError != nil {
			ginContext.JSON(http.StatusBadRequest, gin.H{jsonFieldError: errorInvalidRequestBody})
			return
		}

		modelEntry, resolveError := registry.Resolve(chatRequest.Model)
		if resolveError != nil {
			ginContext.JSON(http.StatusNotFound, gin.H{jsonFieldError: resolveError.Error()})
			return
		}

		upstreamBody, translateError := translateRequest(chatRequest, modelEntry)
		if translateError != nil {
			ginContext.JSON(http.StatusBadRequest, gin.H{jsonFieldError: translateError.Error()})
			return
		}
		payloadBytes, marshalError := json.Marshal(upstreamBody)
		if marshalError != nil {
			ginContext.JSON(http.StatusBadRequest, gin.H{jsonFieldError: errorInvalidRequestBody})
			return
		}

		requestContext, cancelRequest := context.WithTimeout(ginContext.Request.Context(), config.requestTimeout())
		defer cancelRequest()

		bearerToken, tokenError := credentialCache.Token(requestContext)
		if tokenError != nil {
			structuredLogger.Errorw(logEventTokenAcquireFailed, logFieldError, tokenError)
			ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: errorTokenAcquisition})
			return
		}

		upstreamURL := modelEntry.UpstreamURL + chatCompletionsPath
		structuredLogger.Infow(
			logEventRoutingUpstream,
			logFieldURL, upstreamURL,
			logFieldModel, modelEntry.DeploymentName,
			logFieldStream, chatRequest.Stream,
		)

		if chatRequest.Stream {
			handleStreaming(ginContext, requestContext, upstreamURL, bearerToken, payloadBytes, chatRequest.Model, modelEntry, credentialCache, structuredLogger)
			return
		}
		handleBuffered(ginContext, requestContext, upstreamURL, bearerToken, payloadBytes, modelEntry, credentialCache, structuredLogger)
	}
}

// handleBuffered performs the non-streaming upstream call, applies the filter
// once over the complete body, and returns a single JSON payload.
func handleBuffered(ginContext *gin.Context, requestContext context.Context, upstreamURL string, bearerToken string, payloadBytes []byte, modelEntry ModelEntry, credentialCache *CredentialCache, structuredLogger *zap.SugaredLogger) {
	statusCode, responseBytes, requestError := performChatRequest(requestContext, upstreamURL, bearerToken, payloadBytes, structuredLogger)
	if requestError != nil {
		respondUpstreamFailure(ginContext, requestError)
		return
	}

	if statusCode == http.StatusUnauthorized {
		structuredLogger.Infow(logEventTokenRetryAfter401)
		refreshedToken, refreshError := credentialCache.ForceRefresh(requestContext)
		if refreshError != nil {
			ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: errorTokenAcquisition})
			return
		}
		statusCode, responseBytes, requestError = performChatRequest(requestContext, upstreamURL, refreshedToken, payloadBytes, structuredLogger)
		if requestError != nil {
			respondUpstreamFailure(ginContext, requestError)
			return
		}
		if statusCode == http.StatusUnauthorized {
			ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: apperrors.ErrUpstreamAuth.Error()})
			return
		}
	}

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		structuredLogger.Errorw(
			logEventUpstreamStatusError,
			logFieldStatus, statusCode,
		)
		ginContext.JSON(statusCode, gin.H{jsonFieldError: truncateForClient(responseBytes)})
		return
	}

	var responseObject map[string]any
	if unmarshalError := json.Unmarshal(responseBytes, &responseObject); unmarshalError != nil {
		ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: apperrors.ErrUpstreamProtocol.Error()})
		return
	}

	if modelEntry.StripReasoning {
		stripChoiceContent(responseObject)
	}
	ginContext.JSON(http.StatusOK, responseObject)
}

// handleStreaming opens the upstream stream and relays filtered SSE frames.
// Failures before the relay begins surface as plain HTTP errors; failures
// mid-relay become a terminal SSE error frame.
func handleStreaming(ginContext *gin.Context, requestContext context.Context, upstreamURL string, bearerToken string, payloadBytes []byte, publicModelID string, modelEntry ModelEntry, credentialCache *CredentialCache, structuredLogger *zap.SugaredLogger) {
	upstreamResponse, requestError := openChatStream(requestContext, upstreamURL, bearerToken, payloadBytes)
	if requestError != nil {
		respondUpstreamFailure(ginContext, requestError)
		return
	}

	if upstreamResponse.StatusCode == http.StatusUnauthorized {
		drainAndClose(upstreamResponse.Body)
		structuredLogger.Infow(logEventTokenRetryAfter401)
		refreshedToken, refreshError := credentialCache.ForceRefresh(requestContext)
		if refreshError != nil {
			ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: errorTokenAcquisition})
			return
		}
		upstreamResponse, requestError = openChatStream(requestContext, upstreamURL, refreshedToken, payloadBytes)
		if requestError != nil {
			respondUpstreamFailure(ginContext, requestError)
			return
		}
		if upstreamResponse.StatusCode == http.StatusUnauthorized {
			drainAndClose(upstreamResponse.Body)
			ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: apperrors.ErrUpstreamAuth.Error()})
			return
		}
	}
	defer upstreamResponse.Body.Close()

	if upstreamResponse.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(upstreamResponse.Body, upstreamErrorBodyLimit))
		structuredLogger.Errorw(
			logEventUpstreamStatusError,
			logFieldStatus, upstreamResponse.StatusCode,
		)
		ginContext.JSON(upstreamResponse.StatusCode, gin.H{jsonFieldError: truncateForClient(errorBody)})
		return
	}

	var streamFilter *StreamFilter
	if modelEntry.StripReasoning {
		streamFilter = NewStreamFilter()
	}
	writer := newSSEWriter(ginContext)
	relayStream(upstreamResponse.Body, writer, streamFilter, publicModelID, structuredLogger)
}

// respondUpstreamFailure maps a failed upstream call to the client-visible
// error: timeouts become 504, everything else 502.
func respondUpstreamFailure(ginContext *gin.Context, requestError error) {
	if errors.Is(requestError, context.DeadlineExceeded) {
		ginContext.JSON(http.StatusGatewayTimeout, gin.H{jsonFieldError: apperrors.ErrUpstreamTimeout.Error()})
		return
	}
	ginContext.JSON(http.StatusBadGateway, gin.H{jsonFieldError: errorUpstreamRequest})
}

// stripChoiceContent rewrites every choice's message content through the
// reasoning filter, in place.
func stripChoiceContent(responseObject map[string]any) {
	choices, _ := responseObject[jsonFieldChoices].([]any)
	for _, rawChoice := range choices {
		choice, _ := rawChoice.(map[string]any)
		if choice == nil {
			continue
		}
		message, _ := choice[jsonFieldMessage].(map[string]any)
		if message == nil {
			continue
		}
		if content, hasContent := message[jsonFieldContent].(string); hasContent && content != "" {
			message[jsonFieldContent] = StripReasoning(content)
		}
	}
}

// truncateForClient bounds an upstream error body before relaying it.
func truncateForClient(body []byte) string {
	text := string(body)
	if len(text) > upstreamErrorBodyLimit {
		return text[:upstreamErrorBodyLimit]
	}
	return text
}

// drainAndClose discards a response body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, upstreamErrorBodyLimit))
	_ = body.Close()
}
