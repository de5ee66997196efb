// Package notification sends queue completion reports to Telegram.
package notification

import (
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	internalerrors "github.com/olegiv/chatlog-ai-go/internal/errors"
	"github.com/olegiv/chatlog-ai-go/internal/queue"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the same channel
	// to avoid Telegram rate limits
	minMessageInterval = 1 * time.Second
	// maxSendRetries is the maximum number of retry attempts for sending messages
	maxSendRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
)

// TelegramClient sends queue run reports to a Telegram channel
type TelegramClient struct {
	bot             *tgbotapi.BotAPI
	channel         int64
	hostname        string
	lastMessageTime time.Time
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, channel int64) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		// Sanitize so the bot token cannot appear in error messages
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:      bot,
		channel:  channel,
		hostname: hostname,
	}, nil
}

// SendCompletionReport sends the end-of-run queue summary to the channel
func (t *TelegramClient) SendCompletionReport(stats queue.QueueStats, duration time.Duration) error {
	message := t.formatReport(stats, duration)

	if err := t.sendToChannel(t.channel, message); err != nil {
		return fmt.Errorf("failed to send completion report: %w", err)
	}

	return nil
}

// formatReport formats the queue stats into a Telegram message
func (t *TelegramClient) formatReport(stats queue.QueueStats, duration time.Duration) string {
	var msg strings.Builder

	msg.WriteString("💬 *Chatlog Analysis Report*\n")
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n\n", escapeMarkdown(time.Now().Format("2006-01-02 15:04:05"))))

	msg.WriteString("📋 *Queue Summary*\n")
	msg.WriteString(fmt.Sprintf("• Total\\: %d\n", stats.Total))
	msg.WriteString(fmt.Sprintf("• Analyzed\\: %d\n", stats.Processed))
	msg.WriteString(fmt.Sprintf("• Failed\\: %d\n", stats.Failed))
	msg.WriteString(fmt.Sprintf("• Pending\\: %d\n", stats.Pending))
	msg.WriteString(fmt.Sprintf("• Duration\\: %s\n", escapeMarkdown(fmt.Sprintf("%.1fs", duration.Seconds()))))

	if stats.Failed > 0 {
		msg.WriteString("\n⚡ Some conversations failed\\. Re\\-run with \\-retry\\-failed to retry them\\.\n")
	}

	return msg.String()
}

// sendToChannel sends a message to a Telegram channel with rate limiting
func (t *TelegramClient) sendToChannel(channelID int64, message string) error {
	messages := t.splitMessage(message)

	for _, msg := range messages {
		t.waitForRateLimit()

		msgConfig := tgbotapi.NewMessage(channelID, msg)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

// waitForRateLimit ensures minimum interval between messages
func (t *TelegramClient) waitForRateLimit() {
	if t.lastMessageTime.IsZero() {
		return
	}

	elapsed := time.Since(t.lastMessageTime)
	if elapsed < minMessageInterval {
		time.Sleep(minMessageInterval - elapsed)
	}
}

// sendWithRetry sends a message with exponential backoff retry
func (t *TelegramClient) sendWithRetry(msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxSendRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}

		lastErr = err

		// Rate limit errors (429) carry a retry_after hint
		if isRateLimitError(err) {
			retryAfter := extractRetryAfter(err)
			if retryAfter > 0 {
				time.Sleep(time.Duration(retryAfter) * time.Second)
				continue
			}
		}

		if attempt < maxSendRetries {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 2s, 4s, 8s...
			time.Sleep(delay)
		}
	}

	// Sanitize so credentials cannot appear in error messages
	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxSendRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter extracts the retry_after value from a rate limit error
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	// Telegram API errors typically include retry_after in the message
	// Example: "Too Many Requests: retry after 30"
	errStr := err.Error()

	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		remaining := errStr[idx+len("retry after "):]
		var seconds int
		if _, err := fmt.Sscanf(remaining, "%d", &seconds); err == nil {
			return seconds
		}
	}

	// Conservative wait when the value cannot be extracted
	return 30
}

// splitMessage splits a long message into multiple messages
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	lines := strings.Split(message, "\n")
	var currentMsg strings.Builder

	for _, line := range lines {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			// A single oversized line is split on byte boundaries
			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := i + maxMessageLength
					if end > len(line) {
						end = len(line)
					}
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}

	return messages
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2
func escapeMarkdown(text string) string {
	// See: https://core.telegram.org/bots/api#markdownv2-style
	specialChars := []string{
		"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}

	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}

	return result
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username": t.bot.Self.UserName,
		"channel":  t.channel,
		"hostname": t.hostname,
	}
}

// Close closes the Telegram client
func (t *TelegramClient) Close() error {
	t.bot.StopReceivingUpdates()
	return nil
}
