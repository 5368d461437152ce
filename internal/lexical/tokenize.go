package lexical

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenize splits text into lowercase, NFC-normalized tokens (spec §4.3):
// Unicode segmentation, case-folded, script-aware so Latin/Cyrillic words
// accumulate on letter/digit runs while CJK scripts (which carry no
// whitespace between words) emit one token per rune. No stemming.
func Tokenize(text string) []string {
	text = norm.NFC.String(text)
	text = strings.ToLower(text)

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// isCJK reports whether r belongs to a script that is conventionally
// tokenized per-character rather than per-word (spec boundary case B3: "the
// lexical tokenizer emits at least one token per CJK character cluster").
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
