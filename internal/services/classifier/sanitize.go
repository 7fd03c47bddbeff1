package classifier

import (
	"html"
	"regexp"
	"strings"
)

// Prompt size caps, in runes. Comment text and media context are truncated
// independently so a huge caption cannot crowd out the comment itself.
const (
	maxCommentChars = 2000
	maxCaptionChars = 500
	maxContextChars = 1000
)

const maxEmojiRun = 5

var punctRunPattern = regexp.MustCompile(`([!?.]){3,}`)

// Sanitize prepares untrusted comment text for prompting: HTML entities are
// escaped, whitespace runs collapse to single spaces, consecutive punctuation
// is capped at three and consecutive emoji at five.
func Sanitize(text string) string {
	s := html.EscapeString(text)
	s = strings.Join(strings.Fields(s), " ")
	s = punctRunPattern.ReplaceAllString(s, "$1$1$1")
	return capEmojiRuns(s, maxEmojiRun)
}

// Truncate bounds text to limit runes, marking the cut with an ellipsis.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func capEmojiRuns(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	run := 0
	for _, r := range s {
		if isEmoji(r) {
			run++
			if run > max {
				continue
			}
		} else {
			run = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols and pictographs
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // supplemental
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r == 0xFE0F: // variation selector
		return true
	}
	return false
}
