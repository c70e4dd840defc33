package proxy

import (
	"regexp"
	"strings"
)

const (
	reasoningOpenMarker  = "<think>"
	reasoningCloseMarker = "</think>"
)

var blankLineRuns = regexp.MustCompile(`\n{3,}`)

// StreamFilter removes reasoning markup from a token stream incrementally.
//
// Fragment boundaries are arbitrary, so a marker may arrive split across
// fragments. Outside markup, any trailing bytes that could still extend into
// the open marker are withheld rather than emitted; inside markup, the same
// discipline applies to the close marker, except that a failed candidate is
// discarded instead of emitted because those bytes were reasoning content.
// The withheld window never exceeds one marker length. Nesting is not
// supported: an open marker seen inside markup is ordinary discarded content.
//
// One instance serves exactly one stream; it is not safe for concurrent use.
type StreamFilter struct {
	insideMarkup  bool
	pendingBuffer []byte
}

// NewStreamFilter returns a filter in the passthrough state.
func NewStreamFilter() *StreamFilter {
	return &StreamFilter{}
}

// Process consumes one fragment and returns the bytes that are now decidable
// as client-visible content. The returned string may be empty while the
// filter is inside markup or withholding a marker candidate.
func (streamFilter *StreamFilter) Process(fragment string) string {
	if fragment == "" {
		return ""
	}

	var emitted strings.Builder
	scanText := string(streamFilter.pendingBuffer) + fragment
	streamFilter.pendingBuffer = streamFilter.pendingBuffer[:0]

	for scanText != "" {
		if !streamFilter.insideMarkup {
			if openIndex := strings.Index(scanText, reasoningOpenMarker); openIndex >= 0 {
				emitted.WriteString(scanText[:openIndex])
				scanText = scanText[openIndex+len(reasoningOpenMarker):]
				streamFilter.insideMarkup = true
				continue
			}
			withheld := markerOverlap(scanText, reasoningOpenMarker)
			emitted.WriteString(scanText[:len(scanText)-withheld])
			streamFilter.pendingBuffer = append(streamFilter.pendingBuffer, scanText[len(scanText)-withheld:]...)
			scanText = ""
		} else {
			if closeIndex := strings.Index(scanText, reasoningCloseMarker); closeIndex >= 0 {
				scanText = scanText[closeIndex+len(reasoningCloseMarker):]
				streamFilter.insideMarkup = false
				continue
			}
			withheld := markerOverlap(scanText, reasoningCloseMarker)
			streamFilter.pendingBuffer = append(streamFilter.pendingBuffer, scanText[len(scanText)-withheld:]...)
			scanText = ""
		}
	}
	return emitted.String()
}

// Flush finalizes the filter at end of stream. A withheld open-marker
// candidate was never confirmed as markup and is returned as content; inside
// an unterminated span everything withheld stays suppressed.
func (streamFilter *StreamFilter) Flush() string {
	withheld := string(streamFilter.pendingBuffer)
	streamFilter.pendingBuffer = streamFilter.pendingBuffer[:0]
	if streamFilter.insideMarkup {
		return ""
	}
	return withheld
}

// markerOverlap returns the length of the longest suffix of scanText that is
// a strict prefix of marker. Zero means no suffix could extend into marker.
func markerOverlap(scanText string, marker string) int {
	longestCandidate := len(marker) - 1
	if len(scanText) < longestCandidate {
		longestCandidate = len(scanText)
	}
	for overlap := longestCandidate; overlap > 0; overlap-- {
		if strings.HasSuffix(scanText, marker[:overlap]) {
			return overlap
		}
	}
	return 0
}

// StripReasoning removes reasoning markup from a complete buffered body and
// collapses the blank-line runs the removal leaves behind.
func StripReasoning(text string) string {
	streamFilter := NewStreamFilter()
	cleaned := streamFilter.Process(text) + streamFilter.Flush()
	cleaned = blankLineRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
