package chatlog

import (
	"regexp"
	"strings"
	"time"
)

// AgentSender is the fixed sender label attributed to outgoing-direction
// blocks; incoming blocks retain the identity derived from the header.
const AgentSender = "agent"

var (
	// contactIDRe extracts a parenthesized contact identifier from the
	// residual header text, e.g. "John Smith (5511999887766)".
	contactIDRe = regexp.MustCompile(`\(([^)]+)\)`)

	// deliveryStatusRe strips trailing delivery-status annotations from the
	// residual header text.
	deliveryStatusRe = regexp.MustCompile(`(?i)\s*\b(read|delivered)\s*$`)
)

// parseBlock parses dash-separated block exports. Each block is scanned for
// a single header line bearing a full date, a time and a directionality
// marker; the lines following the header form the message body.
// Notification blocks and blocks with an empty body are dropped.
func parseBlock(text string) []Message {
	var msgs []Message

	for _, block := range blockSeparatorRe.Split(text, -1) {
		if msg, ok := parseOneBlock(block); ok {
			msgs = append(msgs, msg)
		}
	}

	return msgs
}

func parseOneBlock(block string) (Message, bool) {
	lines := strings.Split(block, "\n")

	headerIdx := -1
	var header []string
	for i, line := range lines {
		m := blockHeaderRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m != nil {
			headerIdx = i
			header = m
			break
		}
	}
	if headerIdx == -1 {
		return Message{}, false
	}

	direction := header[3]
	if direction == "notification" {
		return Message{}, false
	}

	ts, err := time.Parse("2006-01-02 15:04:05", header[1]+" "+header[2])
	if err != nil {
		return Message{}, false
	}

	var body []string
	for _, line := range lines[headerIdx+1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" && len(body) == 0 {
			continue
		}
		body = append(body, line)
	}
	content := strings.TrimSpace(strings.Join(body, "\n"))
	if content == "" {
		return Message{}, false
	}

	sender := AgentSender
	if direction == "from" {
		sender = deriveBlockSender(header[4])
	}

	return Message{
		Timestamp: ts,
		Sender:    sender,
		Content:   content,
	}, true
}

// deriveBlockSender extracts the sender identity from the residual header
// text: a parenthesized contact identifier when present, otherwise the
// residual text with trailing delivery-status annotations stripped.
func deriveBlockSender(rest string) string {
	if m := contactIDRe.FindStringSubmatch(rest); m != nil {
		return strings.TrimSpace(m[1])
	}
	sender := deliveryStatusRe.ReplaceAllString(strings.TrimSpace(rest), "")
	return strings.TrimSpace(sender)
}
