// Package chatlog parses exported chat-log text files into ordered message
// sequences. Two export dialects are supported: the inline family (one
// timestamped header per line, e.g. WhatsApp-style exports) and the block
// family (dash-separated blocks with a single header line each).
package chatlog

import "time"

// Message is a single parsed chat message. Content may span multiple
// physical lines joined by '\n'; a Message is immutable once parsed.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
}

// Parse converts raw export text into an ordered message sequence using the
// parsing strategy for the given format tag. A result of zero messages is
// not an error at this layer: callers treat it as "no valid conversation
// found" so that sibling files in a batch are unaffected.
func Parse(text string, tag FormatTag) []Message {
	switch tag {
	case FormatBlock:
		return parseBlock(text)
	default:
		return parseInline(text)
	}
}
