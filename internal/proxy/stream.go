package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 1024 * 1024

	flushChunkIDFormat = "proxy-flush-%d"
)

// sseWriter emits server-sent-event frames to the client, flushing after each
// frame so fragments reach the client as soon as they become decidable.
type sseWriter struct {
	responseWriter gin.ResponseWriter
}

func newSSEWriter(ginContext *gin.Context) *sseWriter {
	ginContext.Writer.Header().Set(headerContentType, mimeTextEventStream)
	ginContext.Writer.Header().Set(headerCacheControl, cacheControlNoCache)
	ginContext.Writer.Header().Set(headerAccelBuffering, accelBufferingOff)
	return &sseWriter{responseWriter: ginContext.Writer}
}

// writeRaw forwards an already-encoded payload as one SSE frame.
func (writer *sseWriter) writeRaw(payload string) error {
	if _, writeError := fmt.Fprintf(writer.responseWriter, sseFrameFormat, payload); writeError != nil {
		return writeError
	}
	writer.responseWriter.Flush()
	return nil
}

// writeJSON marshals the value and forwards it as one SSE frame.
func (writer *sseWriter) writeJSON(value any) error {
	encoded, marshalError := json.Marshal(value)
	if marshalError != nil {
		return marshalError
	}
	return writer.writeRaw(string(encoded))
}

// writeError emits a terminal error frame followed by the done marker so
// client-side stream parsers reach a defined end state.
func (writer *sseWriter) writeError(message string, errorType string) {
	_ = writer.writeJSON(map[string]any{
		jsonFieldError: map[string]any{
			jsonFieldErrorMessage: message,
			jsonFieldErrorType:    errorType,
		},
	})
	_ = writer.writeRaw(sseDoneMarker)
}

// writeDone emits the terminal done marker.
func (writer *sseWriter) writeDone() error {
	return writer.writeRaw(sseDoneMarker)
}

// relayStream consumes the upstream SSE body and forwards filtered frames to
// the client. When streamFilter is nil the relay is a verbatim line-for-line
// passthrough that never parses frame payloads.
func relayStream(upstreamBody io.Reader, writer *sseWriter, streamFilter *StreamFilter, publicModelID string, structuredLogger *zap.SugaredLogger) {
	frameScanner := bufio.NewScanner(upstreamBody)
	frameScanner.Buffer(make([]byte, 0, streamScannerInitialBuffer), streamScannerMaxBuffer)

	for frameScanner.Scan() {
		line := frameScanner.Text()
		if line == "" || !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, ssePrefix)

		if strings.TrimSpace(payload) == sseDoneMarker {
			flushPendingContent(writer, streamFilter, publicModelID)
			_ = writer.writeDone()
			return
		}

		if streamFilter == nil {
			if writeError := writer.writeRaw(payload); writeError != nil {
				return
			}
			continue
		}

		chunkObject, deltaContent, parseError := decodeStreamChunk(payload)
		if parseError != nil {
			structuredLogger.Debugw(logEventParseChunkFailed, logFieldError, parseError)
			continue
		}

		// Chunks without delta content (role priming, finish_reason) pass
		// through untouched.
		if deltaContent == "" {
			if writeError := writer.writeRaw(payload); writeError != nil {
				return
			}
			continue
		}

		filteredContent := streamFilter.Process(deltaContent)
		if filteredContent == "" {
			continue
		}
		setDeltaContent(chunkObject, filteredContent)
		if writeError := writer.writeJSON(chunkObject); writeError != nil {
			return
		}
	}

	if scanError := frameScanner.Err(); scanError != nil {
		structuredLogger.Errorw(logEventUpstreamStreamError, logFieldError, scanError)
		errorType := errorTypeUpstream
		if errors.Is(scanError, context.DeadlineExceeded) {
			errorType = errorTypeTimeout
		}
		writer.writeError(scanError.Error(), errorType)
		return
	}

	// Upstream closed without a [DONE] frame; finalize the stream anyway.
	flushPendingContent(writer, streamFilter, publicModelID)
	_ = writer.writeDone()
}

// flushPendingContent emits any withheld filter bytes as a synthetic chunk.
func flushPendingContent(writer *sseWriter, streamFilter *StreamFilter, publicModelID string) {
	if streamFilter == nil {
		return
	}
	remaining := streamFilter.Flush()
	if remaining == "" {
		return
	}
	_ = writer.writeJSON(makeFlushChunk(remaining, publicModelID))
}

// decodeStreamChunk parses one upstream frame payload and extracts the first
// choice's delta content, if any.
func decodeStreamChunk(payload string) (map[string]any, string, error) {
	var chunkObject map[string]any
	if unmarshalError := json.Unmarshal([]byte(payload), &chunkObject); unmarshalError != nil {
		return nil, "", unmarshalError
	}
	choices, _ := chunkObject[jsonFieldChoices].([]any)
	if len(choices) == 0 {
		return chunkObject, "", nil
	}
	firstChoice, _ := choices[0].(map[string]any)
	delta, _ := firstChoice["delta"].(map[string]any)
	deltaContent, _ := delta[jsonFieldContent].(string)
	return chunkObject, deltaContent, nil
}

// setDeltaContent overwrites the first choice's delta content in place.
func setDeltaContent(chunkObject map[string]any, newContent string) {
	choices, _ := chunkObject[jsonFieldChoices].([]any)
	if len(choices) == 0 {
		return
	}
	firstChoice, _ := choices[0].(map[string]any)
	if firstChoice == nil {
		return
	}
	delta, _ := firstChoice["delta"].(map[string]any)
	if delta == nil {
		delta = map[string]any{}
		firstChoice["delta"] = delta
	}
	delta[jsonFieldContent] = newContent
}

// makeFlushChunk builds a minimal completion chunk for content injected by the
// proxy when the filter flushes at end of stream.
func makeFlushChunk(content string, publicModelID string) map[string]any {
	return map[string]any{
		"id":             fmt.Sprintf(flushChunkIDFormat, time.Now().Unix()),
		jsonFieldObject:  chatChunkObject,
		keyModel:         publicModelID,
		jsonFieldChoices: []map[string]any{
			{
				"index":         0,
				"delta":         map[string]any{jsonFieldContent: content},
				"finish_reason": nil,
			},
		},
	}
}
