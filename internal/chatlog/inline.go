package chatlog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// inlinePatterns is the ordered list of candidate header patterns for the
// inline dialect family. The first pattern that matches wins for a line.
// Capture groups are identical across patterns:
// day, month, year, hour, minute, optional second, sender, content.
var inlinePatterns = []*regexp.Regexp{
	// [D/M/Y, H:M:S] Sender: Content (bracketed timestamp)
	regexp.MustCompile(`^\[(\d{1,2})/(\d{1,2})/(\d{2,4}),?\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\]\s*([^:]+?):\s?(.*)$`),
	// D/M/Y H:M:S - Sender: Content (dash-separated timestamp)
	regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4})\s+(\d{1,2}):(\d{2})(?::(\d{2}))?\s*-\s*([^:]+?):\s?(.*)$`),
	// D/M/Y, H:M:S - Sender: Content (comma-dash-separated timestamp)
	regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4}),\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*-\s*([^:]+?):\s?(.*)$`),
}

// parseInline parses line-oriented exports. Each non-empty physical line is
// tested against the candidate patterns in priority order; a line that
// matches no pattern is a continuation of the preceding message, appended to
// its content separated by a line break. A continuation line appearing
// before any header has matched is silently discarded.
func parseInline(text string) []Message {
	var msgs []Message

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if msg, ok := matchInlineHeader(line); ok {
			msgs = append(msgs, msg)
			continue
		}

		// Continuation line: fold into the previous message.
		if len(msgs) == 0 {
			continue
		}
		msgs[len(msgs)-1].Content += "\n" + line
	}

	return msgs
}

// matchInlineHeader tests a line against the candidate patterns and builds a
// message from the first match.
func matchInlineHeader(line string) (Message, bool) {
	for _, re := range inlinePatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		ts, ok := parseInlineTimestamp(m[1], m[2], m[3], m[4], m[5], m[6])
		if !ok {
			continue
		}

		return Message{
			Timestamp: ts,
			Sender:    strings.TrimSpace(m[7]),
			Content:   m[8],
		}, true
	}
	return Message{}, false
}

// parseInlineTimestamp interprets date components as day/month/year with a
// two-digit-year pivot: values under 100 are assumed to be in the 2000s.
// Time components accept either minute or second precision.
func parseInlineTimestamp(day, month, year, hour, minute, second string) (time.Time, bool) {
	d, _ := strconv.Atoi(day)
	mo, _ := strconv.Atoi(month)
	y, _ := strconv.Atoi(year)
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(minute)

	sec := 0
	if second != "" {
		sec, _ = strconv.Atoi(second)
	}

	if y < 100 {
		y += 2000
	}
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, false
	}

	return time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC), true
}
