package platform

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]*?>`)
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	mentionPattern  = regexp.MustCompile(`@\w+(\.\w+)?`)
	entityReplacer  = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// CleanText strips HTML tags, URLs, @mentions and embedded JSON documents
// from platform text and collapses whitespace. Results shorter than minLen
// characters are dropped.
func CleanText(s string, minLen int) string {
	if s == "" {
		return ""
	}
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = markdownImageRe.ReplaceAllString(s, " ")
	s = urlPattern.ReplaceAllString(s, "")
	s = mentionPattern.ReplaceAllString(s, "")

	trimmed := strings.TrimSpace(s)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return ""
	}

	s = entityReplacer.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) < minLen {
		return ""
	}
	return s
}
