package analyzer

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks so "alvenaria estrutural" and
// "alvenaría estrutural" normalize identically. Briefing answers are
// Portuguese free text; accent folding keeps keyword matching and cache
// keys stable across spelling variants.
// NFKD also folds compatibility forms ("m²" -> "m2") before mark removal.
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, accent-folds, and collapses whitespace.
func normalizeText(s string) string {
	folded, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(folded), " ")
}

// contentHash returns a stable SHA-256 hex over the briefing's normalized
// answers. Semantically similar briefings that normalize to the same text
// share a hash and therefore a cached analysis.
func contentHash(answers map[string]string) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(normalizeText(k))
		b.WriteByte('=')
		b.WriteString(normalizeText(answers[k]))
		b.WriteByte('\n')
	}
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h)
}
