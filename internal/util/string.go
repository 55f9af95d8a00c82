package util

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	leadingDigits     = regexp.MustCompile(`^\d+`)
)

// StripTags removes HTML tags from a fragment, leaving its text content.
func StripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// CleanText strips tags, decodes the common entities the site emits and
// collapses runs of whitespace.
func CleanText(s string) string {
	s = StripTags(s)
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	s = replacer.Replace(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ContainsAny reports whether s contains at least one of the substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Contains checks if a string slice contains a specific item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ParseFollowerCount reads a display count like "2,500" or "2,500人"
// into an integer. Commas and whitespace are stripped first; anything
// without a leading digit run parses as zero.
func ParseFollowerCount(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	s = whitespacePattern.ReplaceAllString(s, "")
	digits := leadingDigits.FindString(s)
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// ContentHash returns a short stable fingerprint of data, used to detect
// roster changes between runs.
func ContentHash(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
