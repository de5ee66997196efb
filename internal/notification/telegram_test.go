package notification

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/queue"
)

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "special characters",
			input: "a_b*c[d]e",
			want:  `a\_b\*c\[d\]e`,
		},
		{
			name:  "dots and dashes",
			input: "v1.2-rc",
			want:  `v1\.2\-rc`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeMarkdown(tt.input); got != tt.want {
				t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatReport(t *testing.T) {
	client := &TelegramClient{hostname: "testhost", channel: 1}

	stats := queue.QueueStats{Total: 10, Processed: 8, Failed: 1, Pending: 1}
	report := client.formatReport(stats, 90*time.Second)

	for _, want := range []string{
		"Chatlog Analysis Report",
		"testhost",
		"Total\\: 10",
		"Analyzed\\: 8",
		"Failed\\: 1",
		"Pending\\: 1",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}

	// Failed records add the retry hint
	if !strings.Contains(report, "retry") {
		t.Error("Report with failures should mention the retry flag")
	}

	clean := client.formatReport(queue.QueueStats{Total: 5, Processed: 5}, time.Second)
	if strings.Contains(clean, "retry") {
		t.Error("Clean report should not mention retrying")
	}
}

func TestSplitMessage(t *testing.T) {
	client := &TelegramClient{}

	short := "short message"
	if got := client.splitMessage(short); len(got) != 1 || got[0] != short {
		t.Errorf("splitMessage(short) = %v", got)
	}

	// Many lines exceeding the limit are split on line boundaries
	line := strings.Repeat("x", 100)
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString(line)
		b.WriteString("\n")
	}
	parts := client.splitMessage(b.String())
	if len(parts) < 2 {
		t.Fatalf("Expected multiple parts, got %d", len(parts))
	}
	for i, part := range parts {
		if len(part) > maxMessageLength {
			t.Errorf("Part %d exceeds limit: %d bytes", i, len(part))
		}
	}

	// A single oversized line is split on byte boundaries
	huge := strings.Repeat("y", maxMessageLength+500)
	parts = client.splitMessage(huge)
	if len(parts) < 2 {
		t.Errorf("Oversized line should be split, got %d parts", len(parts))
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Too Many Requests: retry after 30"), true},
		{errors.New("status 429"), true},
		{errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		if got := isRateLimitError(tt.err); got != tt.want {
			t.Errorf("isRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestExtractRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "nil error",
			err:  nil,
			want: 0,
		},
		{
			name: "explicit retry after",
			err:  errors.New("Too Many Requests: retry after 30"),
			want: 30,
		},
		{
			name: "case insensitive",
			err:  errors.New("Retry After 12"),
			want: 12,
		},
		{
			name: "no value falls back to conservative wait",
			err:  errors.New("Too Many Requests"),
			want: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractRetryAfter(tt.err); got != tt.want {
				t.Errorf("extractRetryAfter() = %d, want %d", got, tt.want)
			}
		})
	}
}
