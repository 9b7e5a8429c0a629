// Package textnorm cleans prompt text before tokenization, following the
// GPT-1 style standardization: dash and ellipsis variants are folded to
// ASCII, punctuation runs are space-padded, and whitespace is collapsed
// while preserving newlines.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	punctRuns   = regexp.MustCompile(`(-+|~+|!+|"+|;+|\?+|\++|,+|\)+|\(+|\\+|/+|\*+|\[+|\]+|}+|{+|\|+|_+)`)
	newlineRuns = regexp.MustCompile(`\s*\n\s*`)
	tabRuns     = regexp.MustCompile(`\s*\t\s*`)
	spaceRuns   = regexp.MustCompile(`[^\S\n]+`)
)

var replacer = strings.NewReplacer(
	"—", "-",   // em dash
	"–", "-",   // en dash
	"―", "-",   // horizontal bar
	"…", "...", // ellipsis
	"´", "'",   // acute accent
)

// Standardize returns the cleaned form of text.
func Standardize(text string) string {
	text = replacer.Replace(text)
	text = punctRuns.ReplaceAllString(text, " $1 ")
	text = newlineRuns.ReplaceAllString(text, " \n ")
	text = tabRuns.ReplaceAllString(text, " ")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
