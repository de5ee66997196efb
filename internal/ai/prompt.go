package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
)

// Analysis is the fixed-shape structured result produced by the analysis
// service for one conversation. It is owned exclusively by the conversation
// record that references it.
type Analysis struct {
	Channel           string  `json:"channel"`
	EquipmentCategory string  `json:"equipmentCategory"`
	Value             float64 `json:"value"`
	Converted         bool    `json:"converted"`
	Score             int     `json:"score"`
	Summary           string  `json:"summary"`
}

// GetSystemPrompt returns the system prompt for conversation analysis
func GetSystemPrompt(rules Rules) string {
	channels := strings.Join(rules.Channels, "|")
	categories := strings.Join(rules.EquipmentCategories, ", ")

	var b strings.Builder
	b.WriteString(`You are a sales operations analyst. Your role is to analyze a single customer conversation transcript and classify it.

**Analysis Framework:**

1. **Channel** - The channel the customer arrived from. Must be one of: ` + channels + `
2. **Equipment Category** - The equipment the customer asked about. Choose the closest match from: ` + categories + `
3. **Value** - The total monetary value discussed (quoted price, rental total, or 0 if none was mentioned).
4. **Converted** - Whether the conversation resulted in a closed deal.
5. **Score** - Service quality of the agent's replies on a 1-10 scale (10 = excellent).
6. **Summary** - A 1-2 sentence overview of the conversation.

**Output Requirements:**

You MUST respond with a valid JSON object (and ONLY JSON) in this exact format:

{
  "channel": "` + channels + `",
  "equipmentCategory": "category name",
  "value": 0,
  "converted": false,
  "score": 7,
  "summary": "1-2 sentence overview"
}

**Analysis Principles:**
- Be accurate and fact-based - only report what appears in the transcript
- Use the customer's own words to determine the channel and category
- Report value as a plain number without currency symbols
- If uncertain, pick the closest category and say so in the summary`)

	if rules.Instructions != "" {
		b.WriteString("\n\n**Additional Rules:**\n")
		b.WriteString(rules.Instructions)
	}

	return b.String()
}

// GetUserPrompt constructs the user prompt embedding the transcript
func GetUserPrompt(msgs []chatlog.Message) string {
	var prompt strings.Builder

	prompt.WriteString("CONVERSATION TRANSCRIPT:\n")
	prompt.WriteString(SanitizeTranscript(chatlog.FormatInlineText(msgs)))
	prompt.WriteString("\n\nPlease analyze the conversation above and provide your assessment in JSON format as specified.")

	return prompt.String()
}

// promptInjectionPatterns contains regex patterns for common prompt injection attempts
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)\bASSISTANT\s*:`),
	regexp.MustCompile(`(?i)\bSYSTEM\s*:`),
}

// SanitizeTranscript sanitizes transcript content before it is embedded in a
// prompt. Removes non-printable characters (except newlines, tabs, carriage
// returns), common prompt injection patterns, and excessive whitespace.
func SanitizeTranscript(content string) string {
	var sanitized strings.Builder
	sanitized.Grow(len(content))

	for _, r := range content {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	for _, pattern := range promptInjectionPatterns {
		result = pattern.ReplaceAllString(result, "[FILTERED]")
	}

	// Normalize excessive newlines (more than 3 consecutive)
	excessiveNewlines := regexp.MustCompile(`\n{4,}`)
	result = excessiveNewlines.ReplaceAllString(result, "\n\n\n")

	return result
}

// Maximum allowed JSON response size (1MB) to prevent memory exhaustion
const maxJSONResponseSize = 1024 * 1024

// sanitizeJSONEscapes fixes invalid JSON escape sequences in LLM responses.
// JSON only allows: \" \\ \/ \b \f \n \r \t \uXXXX
// LLMs sometimes produce invalid sequences like \. \( \) \- etc.
func sanitizeJSONEscapes(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		if s[i] == '\\' && i+1 < len(s) {
			next := s[i+1]
			// Valid JSON escapes: " \ / b f n r t u
			if next == '"' || next == '\\' || next == '/' ||
				next == 'b' || next == 'f' || next == 'n' ||
				next == 'r' || next == 't' || next == 'u' {
				result.WriteByte(s[i])
				result.WriteByte(next)
				i += 2
				continue
			}
			// Invalid escape - skip the backslash, keep the character
			result.WriteByte(next)
			i += 2
			continue
		}
		result.WriteByte(s[i])
		i++
	}
	return result.String()
}

// ParseAnalysis extracts and parses the JSON analysis from the service's
// response text. Parse failures wrap ErrMalformedResponse so the queue can
// classify them.
func ParseAnalysis(response string) (*Analysis, error) {
	jsonMatch := extractJSON(response)

	if jsonMatch == "" {
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrMalformedResponse)
	}

	if len(jsonMatch) > maxJSONResponseSize {
		return nil, fmt.Errorf("%w: JSON response too large: %d bytes (max: %d)",
			ErrMalformedResponse, len(jsonMatch), maxJSONResponseSize)
	}

	// Sanitize invalid JSON escape sequences that LLMs sometimes produce
	sanitizedJSON := sanitizeJSONEscapes(jsonMatch)

	var analysis Analysis
	if err := json.Unmarshal([]byte(sanitizedJSON), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := validateAnalysis(&analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &analysis, nil
}

// validateAnalysis validates the analysis structure
func validateAnalysis(analysis *Analysis) error {
	if analysis.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if analysis.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	if analysis.Score < 1 || analysis.Score > 10 {
		return fmt.Errorf("score must be between 1 and 10 (got: %d)", analysis.Score)
	}
	if analysis.Value < 0 {
		return fmt.Errorf("value must not be negative (got: %.2f)", analysis.Value)
	}
	return nil
}

// extractJSON extracts the first balanced JSON object from a response string.
// This is more reliable than greedy regex matching.
func extractJSON(response string) string {
	// Find the first opening brace
	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return ""
	}

	// Track brace depth to find matching closing brace
	depth := 0
	inString := false
	escaped := false

	for i := startIdx; i < len(response); i++ {
		char := response[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' && inString {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if char == '{' {
			depth++
		} else if char == '}' {
			depth--
			if depth == 0 {
				return response[startIdx : i+1]
			}
		}
	}

	return ""
}
