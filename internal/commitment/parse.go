package commitment

import "strings"

const (
	glyphCheck     = "✅"
	glyphHourglass = "⏳"
)

// ParsedResponse is the classification of a free-text reply.
type ParsedResponse struct {
	Type    ResponseType
	Details string
}

// ParseResponse classifies a reply. It is pure and total; the first matching rule wins:
//
//  1. "done", or any ✅ → DONE
//  2. "working", "still working", or any ⏳ → WORKING
//  3. starts with "blocked" → BLOCKED, details = text after "blocked" and any ':'/spaces
//  4. contains "blocked" → BLOCKED, details = the whole original text
//  5. anything else → NO_RESPONSE
//
// Rule 4 also matches "not blocked"; that is kept as is.
func ParseResponse(text string) ParsedResponse {
	norm := strings.ToLower(strings.TrimSpace(text))

	switch {
	case norm == "done" || strings.Contains(norm, glyphCheck):
		return ParsedResponse{Type: ResponseDone}
	case norm == "working" || norm == "still working" || strings.Contains(norm, glyphHourglass):
		return ParsedResponse{Type: ResponseWorking}
	case strings.HasPrefix(norm, "blocked"):
		// Prefer the original so details keep the user's casing.
		src := strings.TrimSpace(text)
		if len(src) < len("blocked") || !strings.EqualFold(src[:len("blocked")], "blocked") {
			src = norm
		}
		rest := strings.TrimLeft(src[len("blocked"):], ": \t\r\n")
		return ParsedResponse{Type: ResponseBlocked, Details: strings.TrimSpace(rest)}
	case strings.Contains(norm, "blocked"):
		return ParsedResponse{Type: ResponseBlocked, Details: text}
	default:
		return ParsedResponse{Type: ResponseNone}
	}
}

// StatusFor maps a classified reply to the commitment's next status.
// NO_RESPONSE keeps the current status.
func StatusFor(rt ResponseType, current Status) Status {
	switch rt {
	case ResponseDone:
		return StatusDone
	case ResponseWorking:
		return StatusInProgress
	case ResponseBlocked:
		return StatusBlocked
	default:
		return current
	}
}
