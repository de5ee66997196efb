package chatlog

import (
	"testing"
	"time"
)

func TestParseInlineBracketed(t *testing.T) {
	text := "[12/3/2024, 14:05:33] Maria Silva: hello, I need a loader\n" +
		"[12/3/24, 14:06] agent: which model?\n"

	msgs := parseInline(text)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	want0 := Message{
		Timestamp: time.Date(2024, 3, 12, 14, 5, 33, 0, time.UTC),
		Sender:    "Maria Silva",
		Content:   "hello, I need a loader",
	}
	if msgs[0] != want0 {
		t.Errorf("First message mismatch: got %+v, want %+v", msgs[0], want0)
	}

	// Two-digit year pivots into the 2000s; missing seconds default to zero
	want1 := Message{
		Timestamp: time.Date(2024, 3, 12, 14, 6, 0, 0, time.UTC),
		Sender:    "agent",
		Content:   "which model?",
	}
	if msgs[1] != want1 {
		t.Errorf("Second message mismatch: got %+v, want %+v", msgs[1], want1)
	}
}

func TestParseInlineDashSeparated(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantSender string
		wantTime   time.Time
	}{
		{
			name:       "dash separated",
			text:       "12/3/2024 14:05:33 - Maria: hi",
			wantSender: "Maria",
			wantTime:   time.Date(2024, 3, 12, 14, 5, 33, 0, time.UTC),
		},
		{
			name:       "comma dash separated",
			text:       "12/3/2024, 14:05 - Maria: hi",
			wantSender: "Maria",
			wantTime:   time.Date(2024, 3, 12, 14, 5, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := parseInline(tt.text)
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(msgs))
			}
			if msgs[0].Sender != tt.wantSender {
				t.Errorf("Sender = %q, want %q", msgs[0].Sender, tt.wantSender)
			}
			if !msgs[0].Timestamp.Equal(tt.wantTime) {
				t.Errorf("Timestamp = %v, want %v", msgs[0].Timestamp, tt.wantTime)
			}
		})
	}
}

func TestParseInlineContinuationFolding(t *testing.T) {
	text := "[12/3/2024, 14:05:33] Maria: first line\n" +
		"second line\n" +
		"third line\n" +
		"[12/3/2024, 14:07:00] agent: ok\n"

	msgs := parseInline(text)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	wantContent := "first line\nsecond line\nthird line"
	if msgs[0].Content != wantContent {
		t.Errorf("Folded content = %q, want %q", msgs[0].Content, wantContent)
	}
	if msgs[1].Content != "ok" {
		t.Errorf("Second message content = %q, want %q", msgs[1].Content, "ok")
	}
}

func TestParseInlineLeadingContinuationDiscarded(t *testing.T) {
	text := "orphan line before any header\n" +
		"[12/3/2024, 14:05:33] Maria: hello\n"

	msgs := parseInline(text)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("Content = %q, want %q", msgs[0].Content, "hello")
	}
}

func TestParseInlineEmptyAndBlankInput(t *testing.T) {
	for _, text := range []string{"", "\n\n\n", "   \n\t\n"} {
		if msgs := parseInline(text); len(msgs) != 0 {
			t.Errorf("parseInline(%q) = %d messages, want 0", text, len(msgs))
		}
	}
}

func TestParseInlineInvalidTimestampTreatedAsContinuation(t *testing.T) {
	// Month 13 fails range validation so the line cannot be a header
	text := "[12/3/2024, 14:05:33] Maria: hi\n" +
		"[12/13/2024, 14:05:33] Bob: this folds\n"

	msgs := parseInline(text)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	wantContent := "hi\n[12/13/2024, 14:05:33] Bob: this folds"
	if msgs[0].Content != wantContent {
		t.Errorf("Content = %q, want %q", msgs[0].Content, wantContent)
	}
}

func TestParseInlineCRLF(t *testing.T) {
	text := "[12/3/2024, 14:05:33] Maria: hello\r\ncontinued\r\n"

	msgs := parseInline(text)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "hello\ncontinued" {
		t.Errorf("Content = %q, want %q", msgs[0].Content, "hello\ncontinued")
	}
}

func TestParseInlineTimestampValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields [6]string // day, month, year, hour, minute, second
		wantOK bool
		want   time.Time
	}{
		{
			name:   "four digit year",
			fields: [6]string{"5", "7", "2023", "9", "30", "15"},
			wantOK: true,
			want:   time.Date(2023, 7, 5, 9, 30, 15, 0, time.UTC),
		},
		{
			name:   "two digit year pivots",
			fields: [6]string{"5", "7", "23", "9", "30", ""},
			wantOK: true,
			want:   time.Date(2023, 7, 5, 9, 30, 0, 0, time.UTC),
		},
		{
			name:   "month out of range",
			fields: [6]string{"5", "13", "2023", "9", "30", ""},
			wantOK: false,
		},
		{
			name:   "day out of range",
			fields: [6]string{"32", "7", "2023", "9", "30", ""},
			wantOK: false,
		},
		{
			name:   "hour out of range",
			fields: [6]string{"5", "7", "2023", "24", "30", ""},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseInlineTimestamp(
				tt.fields[0], tt.fields[1], tt.fields[2],
				tt.fields[3], tt.fields[4], tt.fields[5])
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", got, tt.want)
			}
		})
	}
}
