package messaging

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/tradepost/internal/apperr"
)

// DefaultMaxLength is the message length limit in runes.
const DefaultMaxLength = 2000

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
}

// ValidateContent checks user-composed text before any lock or transaction.
// Empty text is allowed only alongside an image.
func ValidateContent(content, imageRef string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && imageRef == "" {
		return apperr.Validation("empty_message", "message text or image is required")
	}
	if n := utf8.RuneCountInString(content); n > maxLen {
		return apperr.Validation("message_too_long", "message is %d characters, limit is %d", n, maxLen)
	}
	for _, re := range unsafePatterns {
		if re.MatchString(content) {
			return apperr.Validation("unsafe_content", "message contains disallowed content")
		}
	}
	return nil
}
