package scheduler

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

const (
	DefaultMaxLength = 300
	ellipsis         = "..."
)

type cut string

const (
	cutNone     cut = ""
	cutSentence cut = "sentence"
	cutWord     cut = "word"
	cutHard     cut = "hard"
)

// Shortens text to at most limit grapheme clusters. It prefers ending on a sentence boundary (as
// long as that keeps at least half the limit), then on a word boundary, and finally cuts hard.
// Word and hard cuts end with "...", which counts against the limit.
func Truncate(text string, limit int) string {
	out, _ := truncate(text, limit)
	return out
}

func truncate(text string, limit int) (string, cut) {
	if limit <= 0 {
		return text, cutNone
	}
	var clusters []string
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		clusters = append(clusters, g.Str())
	}
	if len(clusters) <= limit {
		return text, cutNone
	}

	for i := limit - 1; i+1 >= limit/2 && i >= 0; i-- {
		if isSentenceEnd(clusters[i]) && isSpace(clusters[i+1]) {
			return strings.Join(clusters[:i+1], ""), cutSentence
		}
	}

	if limit <= len(ellipsis) {
		return strings.Join(clusters[:limit], ""), cutHard
	}
	room := limit - len(ellipsis)
	// a boundary at room means the word before it fits exactly
	for i := room; i > 0; i-- {
		if isSpace(clusters[i]) {
			head := strings.TrimRightFunc(strings.Join(clusters[:i], ""), unicode.IsSpace)
			if head != "" {
				return head + ellipsis, cutWord
			}
		}
	}
	return strings.Join(clusters[:room], "") + ellipsis, cutHard
}

func isSentenceEnd(c string) bool {
	return c == "." || c == "!" || c == "?"
}

func isSpace(c string) bool {
	r, _ := utf8.DecodeRuneInString(c)
	return unicode.IsSpace(r)
}
