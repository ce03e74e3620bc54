// Package textclean normalizes free text before it reaches a tokenizer.
package textclean

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	url        = regexp.MustCompile(`https?\S+|www\S+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Clean strips HTML tags and URLs, collapses whitespace runs to one space
// and trims the result. It is idempotent.
func Clean(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = url.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Len counts characters (runes), the unit used for text length limits.
func Len(s string) int { return utf8.RuneCountInString(s) }
