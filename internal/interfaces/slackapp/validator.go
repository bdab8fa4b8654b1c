package slackapp

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input limits for approval form values
const (
	MaxNotesLength    = 3000
	MaxLocationLength = 3000
)

var channelIDPattern = regexp.MustCompile(`^[CGD][A-Z0-9]{2,}$`)

// ValidChannelID checks that s looks like a Slack conversation id
func ValidChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString truncates s to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func cleanValue(s string, maxLen int) string {
	return TruncateString(SanitizeString(s), maxLen)
}
