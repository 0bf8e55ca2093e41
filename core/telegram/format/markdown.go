package format

import (
	"fmt"
	"strings"
)

const (
	// MarkdownV1 denotes Telegram markdown version 1.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram markdown version 2.
	MarkdownV2 = 2
)

const mdV2Specials = "_*[]()~`>#+-=|{}.!\\"

var (
	mdV1Replacer = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	mdV2Replacer = newEscaper(mdV2Specials)
)

func newEscaper(specials string) *strings.Replacer {
	pairs := make([]string, 0, len(specials)*2)
	for _, r := range specials {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}

// EscapeMarkdown escapes special characters for MarkdownV1 or V2.
func EscapeMarkdown(text string, version int) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Replacer.Replace(text), nil
	case MarkdownV2:
		return mdV2Replacer.Replace(text), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}

// MD escapes user-supplied text for legacy Markdown messages.
func MD(text string) string {
	return mdV1Replacer.Replace(text)
}
