package proxy

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
	"github.com/arutyunov/foundry-proxy/internal/constants"
	"github.com/arutyunov/foundry-proxy/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requestResponseLogger emits structured request and response metadata for traceability.
func requestResponseLogger(structuredLogger *zap.SugaredLogger) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		requestStart := time.Now()
		requestMethod := ginContext.Request.Method
		requestPath := ginContext.Request.URL.RequestURI()
		requestClientIP := ginContext.ClientIP()

		structuredLogger.Infow(
			logEventRequestReceived,
			logFieldMethod, requestMethod,
			logFieldPath, requestPath,
			logFieldClientIP, requestClientIP,
		)

		ginContext.Next()

		responseStatus := ginContext.Writer.Status()
		responseLatencyMillis := time.Since(requestStart).Milliseconds()
		structuredLogger.Infow(
			logEventResponseSent,
			logFieldStatus, responseStatus,
			constants.LogFieldLatencyMilliseconds, responseLatencyMillis,
		)
	}
}

// sharedSecretMiddleware enforces the shared secret carried as a bearer token
// in the Authorization header, using a constant-time comparison.
func sharedSecretMiddleware(sharedSecret string, structuredLogger *zap.SugaredLogger) gin.HandlerFunc {
	normalizedSecret := strings.TrimSpace(sharedSecret)
	expectedSecretBytes := []byte(normalizedSecret)
	expectedSecretFingerprint := utils.Fingerprint(normalizedSecret)
	return func(ginContext *gin.Context) {
		authorizationHeader := ginContext.GetHeader(headerAuthorization)
		if !utils.HasAnyPrefix(authorizationHeader, headerAuthorizationPrefix) {
			structuredLogger.Warnw(
				logEventForbiddenRequest,
				logFieldExpectedFingerprint, expectedSecretFingerprint,
			)
			ginContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonFieldError: errorMissingBearerToken})
			return
		}
		presentedSecret := strings.TrimSpace(authorizationHeader[len(headerAuthorizationPrefix):])
		if !constantTimeEquals(expectedSecretBytes, []byte(presentedSecret)) {
			structuredLogger.Warnw(
				logEventForbiddenRequest,
				logFieldExpectedFingerprint, expectedSecretFingerprint,
			)
			ginContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonFieldError: apperrors.ErrUnauthorized.Error()})
			return
		}
		ginContext.Next()
	}
}

// constantTimeEquals compares two byte slices in constant time to reduce side-channel signal.
func constantTimeEquals(firstValue []byte, secondValue []byte) bool {
	if len(firstValue) != len(secondValue) {
		_ = subtle.ConstantTimeCompare(firstValue, firstValue)
		_ = subtle.ConstantTimeCompare(secondValue, firstValue)
		return false
	}
	return subtle.ConstantTimeCompare(firstValue, secondValue) == 1
}
