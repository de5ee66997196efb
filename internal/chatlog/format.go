package chatlog

import (
	"fmt"
	"strings"
)

// inlineTimestampLayout is the canonical bracketed header layout emitted by
// FormatInlineText. Parsing it back yields the original messages.
const inlineTimestampLayout = "2/1/2006, 15:04:05"

// FormatInlineText renders messages as canonical inline-dialect text:
// one bracketed header per message, with multi-line content emitted as
// continuation lines. Re-parsing the output yields an equal sequence of
// (timestamp, sender, content) tuples.
func FormatInlineText(msgs []Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			msg.Timestamp.Format(inlineTimestampLayout), msg.Sender, msg.Content)
	}
	return b.String()
}
