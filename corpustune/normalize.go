package corpustune

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// lookupKey converts a surface word into the form used for lexicon lookups:
// NFC, lower case, inner spaces joined with underscores.
func lookupKey(word string) string {
	key := norm.NFC.String(strings.TrimSpace(word))
	key = strings.ToLower(key)
	return strings.Join(strings.Fields(key), "_")
}

// displayLemma turns a stored lemma into the text that is substituted into a sentence.
func displayLemma(lemma string) string {
	return strings.ReplaceAll(lemma, "_", " ")
}
