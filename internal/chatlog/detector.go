package chatlog

import "regexp"

// FormatTag identifies one of the supported chat export dialects.
type FormatTag string

// Supported export dialects.
const (
	// FormatInline covers line-oriented exports where every message starts
	// with a timestamped header on its own line.
	FormatInline FormatTag = "inline"

	// FormatBlock covers exports divided by long dash separator lines, one
	// message per block with a date/time/direction header.
	FormatBlock FormatTag = "block"
)

var (
	// blockSeparatorRe matches the separator lines between block-format
	// messages (20 or more dashes).
	blockSeparatorRe = regexp.MustCompile(`(?m)^-{20,}\s*$`)

	// blockHeaderRe matches a block header: full date, time with seconds and
	// a directionality marker.
	blockHeaderRe = regexp.MustCompile(`(?m)^(\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}:\d{2}) (from|to|notification)\b(.*)$`)
)

// Detect classifies raw export text into one of the supported dialects.
// It is side-effect-free and total: unknown content defaults to the inline
// family, deferring failure to the parser itself (which may then produce
// zero messages). The block signature wins when both partially match,
// because a block header resembles plain text more often than the reverse.
func Detect(text string) FormatTag {
	if blockSeparatorRe.MatchString(text) && blockHeaderRe.MatchString(text) {
		return FormatBlock
	}
	return FormatInline
}
