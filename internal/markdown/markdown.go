// Package markdown prepares model output for Telegram's MarkdownV2 parse
// mode, which rejects any message containing an unescaped special character.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	thinkBlockPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkPattern  = regexp.MustCompile(`(?is)<think>.*$`)
	fencedPattern     = regexp.MustCompile("(?s)```.*?```")
	inlinePattern     = regexp.MustCompile("`[^`\n]+`")
	boldPattern       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// CleanResponse strips model reasoning blocks and surrounding whitespace
// from a raw completion.
func CleanResponse(s string) string {
	s = thinkBlockPattern.ReplaceAllString(s, "")
	s = openThinkPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// escapeTargets is every character MarkdownV2 treats as syntax.
const escapeTargets = "_*[]()~`>#+-=|{}.!"

// EscapeV2 backslash-escapes all MarkdownV2 syntax characters.
func EscapeV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if strings.ContainsRune(escapeTargets, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatV2 escapes free text for MarkdownV2 while keeping code spans and
// bold emphasis renderable. Code regions are lifted out behind placeholders
// before escaping and restored untouched afterwards.
func FormatV2(s string) string {
	var stash []string
	stashRegion := func(match string) string {
		stash = append(stash, match)
		return fmt.Sprintf("\x00%d\x00", len(stash)-1)
	}

	s = fencedPattern.ReplaceAllStringFunc(s, stashRegion)
	s = inlinePattern.ReplaceAllStringFunc(s, stashRegion)

	// Double-star bold becomes single-star before escaping, captured
	// through the same stash so the stars survive.
	s = boldPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := boldPattern.FindStringSubmatch(match)[1]
		return stashRegion("*" + EscapeV2(inner) + "*")
	})

	s = EscapeV2(s)

	for i := len(stash) - 1; i >= 0; i-- {
		s = strings.Replace(s, fmt.Sprintf("\x00%d\x00", i), stash[i], 1)
	}
	return s
}
