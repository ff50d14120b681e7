package util

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (especially NUL / 0x00 from some PDF extractors). Layout whitespace is kept because
// the chunker relies on blank lines and table borders.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' || ch >= 0x20 {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// Truncate cuts s to at most maxRunes runes.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}

// Preview collapses whitespace and shortens s for listings.
func Preview(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 200
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return strings.TrimSpace(Truncate(s, maxRunes)) + "..."
}

// EvidenceSnippet picks the sentences of text that share the most terms with query.
func EvidenceSnippet(text, query string, maxRunes int) string {
	terms := QueryTerms(query)
	sentences := splitSentences(strings.Join(strings.Fields(text), " "))
	if len(terms) == 0 || len(sentences) == 0 {
		return Preview(text, maxRunes)
	}
	type scored struct {
		idx   int
		score int
	}
	list := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				n++
			}
		}
		list = append(list, scored{idx: i, score: n})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	if list[0].score == 0 {
		return Preview(text, maxRunes)
	}
	best := sentences[list[0].idx]
	if len(list) > 1 && list[1].score > 0 {
		a, b := list[0].idx, list[1].idx
		if a > b {
			a, b = b, a
		}
		best = sentences[a] + " " + sentences[b]
	}
	return Preview(best, maxRunes)
}

// WordCount matches whitespace tokenisation used for chunk statistics.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func splitSentences(s string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(b.String()); x != "" {
				out = append(out, x)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "with": {}, "from": {}, "who": {}, "does": {},
}

// QueryTerms lowercases q and drops short words, stop words and duplicates.
func QueryTerms(q string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len(f) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
