package proxy

const (
	// LogLevelDebug indicates that the application should log debug information.
	LogLevelDebug = "debug"

	// LogLevelInfo indicates that the application should log informational messages.
	LogLevelInfo = "info"

	headerAuthorization       = "Authorization"
	headerContentType         = "Content-Type"
	headerCacheControl        = "Cache-Control"
	headerAccelBuffering      = "X-Accel-Buffering"
	headerMetadata            = "Metadata"
	headerIdentitySecret      = "X-IDENTITY-HEADER"
	headerAuthorizationPrefix = "Bearer "

	mimeApplicationJSON = "application/json"
	mimeTextEventStream = "text/event-stream"

	cacheControlNoCache = "no-cache"
	accelBufferingOff   = "no"

	routeHealth          = "/health"
	routeModels          = "/v1/models"
	routeChatCompletions = "/v1/chat/completions"

	ssePrefix       = "data: "
	sseDoneMarker   = "[DONE]"
	sseFrameFormat  = "data: %s\n\n"
	chatChunkObject = "chat.completion.chunk"

	keyModel     = "model"
	keyMessages  = "messages"
	keyMaxTokens = "max_tokens"
	keyStream    = "stream"

	jsonFieldChoices      = "choices"
	jsonFieldMessage      = "message"
	jsonFieldContent      = "content"
	jsonFieldExpiresOn    = "expires_on"
	jsonFieldStatus       = "status"
	jsonFieldModels       = "models"
	jsonFieldObject       = "object"
	jsonFieldData         = "data"
	jsonFieldError        = "error"
	jsonFieldErrorMessage = "message"
	jsonFieldErrorType    = "type"

	objectValueList   = "list"
	objectValueModel  = "model"
	statusValueOK     = "ok"
	modelOwnerValue   = "azure-foundry"
	errorTypeUpstream = "upstream_error"
	errorTypeTimeout  = "timeout"

	errorMissingBearerToken = "missing bearer token"
	errorInvalidRequestBody = "invalid request body"
	errorEmptyMessages      = "messages must not be empty"
	errorMessageShape       = "every message requires a role and content"
	errorTokenAcquisition   = "identity token acquisition failed"
	errorUpstreamRequest    = "upstream request failed"

	logFieldMethod   = "method"
	logFieldPath     = "path"
	logFieldClientIP = "client_ip"
	logFieldStatus   = "status"
	logFieldModel    = "model"
	logFieldStream   = "stream"
	logFieldURL      = "url"
	logFieldError    = "error"

	// logFieldExpectedFingerprint identifies the fingerprint of the expected shared secret.
	logFieldExpectedFingerprint = "expected_fingerprint"

	logEventRequestReceived      = "request received"
	logEventResponseSent         = "response sent"
	logEventForbiddenRequest     = "forbidden request"
	logEventRoutingUpstream      = "routing to upstream"
	logEventTokenAcquired        = "identity token acquired"
	logEventTokenAcquireFailed   = "identity token acquisition failed"
	logEventTokenRetryAfter401   = "retrying with refreshed identity token"
	logEventUpstreamRequestError = "upstream request error"
	logEventUpstreamStatusError  = "upstream returned failure status"
	logEventUpstreamStreamError  = "upstream stream error"
	logEventParseChunkFailed     = "parse upstream chunk failed"
	logEventRegistryLoaded       = "model registry loaded"
	logEventRegistryFallback     = "registry file not found, using env fallback"
)
