package inventory

import (
	"regexp"
	"strings"
)

var (
	scriptBlocks = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	htmlTags     = regexp.MustCompile(`<[^>]*>`)
)

// SanitizeReason strips script blocks, then any remaining HTML tags, then
// surrounding whitespace. Reasons land in audit rows and admin views, so they
// must carry no markup.
func SanitizeReason(reason string) string {
	var out = scriptBlocks.ReplaceAllString(reason, "")
	out = htmlTags.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
