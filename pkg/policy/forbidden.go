package policy

import (
	"regexp"
	"strings"
	"sync"
)

// ForbiddenTermSet holds the redaction set and compiles each term into
// a normalization-tolerant matcher. Matching is closed under Normalize:
// for any forbidden term t and any input t' that normalizes to a
// superstring of Normalize(t), detection returns true.
type ForbiddenTermSet struct {
	mu    sync.RWMutex
	terms []compiledTerm
}

type compiledTerm struct {
	original string
	pattern  *regexp.Regexp
}

// NewForbiddenTermSet builds a set from the given terms.
func NewForbiddenTermSet(terms ...string) *ForbiddenTermSet {
	s := &ForbiddenTermSet{}
	for _, t := range terms {
		s.Add(t)
	}
	return s
}

// Add inserts term into the set. When term is composed of kana, its
// katakana variant is inserted too, so a term authored in hiragana
// still matches katakana renderings directly (the
// normalizer already folds both to katakana, but keeping both original
// strings lets callers enumerate what was configured).
func (s *ForbiddenTermSet) Add(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(term)
	if containsKana(term) {
		variant := toKatakanaVariant(term)
		if variant != term {
			s.addLocked(variant)
		}
	}
}

func (s *ForbiddenTermSet) addLocked(term string) {
	for _, existing := range s.terms {
		if existing.original == term {
			return
		}
	}
	pattern, err := compileForbiddenPattern(term)
	if err != nil {
		return
	}
	s.terms = append(s.terms, compiledTerm{original: term, pattern: pattern})
}

// Terms returns a copy of the configured original term strings.
func (s *ForbiddenTermSet) Terms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.terms))
	for i, t := range s.terms {
		out[i] = t.original
	}
	return out
}

// FindMatch returns the first matching term and the [start,end) rune
// range of the ORIGINAL text it covers, or ok=false if nothing matched.
func (s *ForbiddenTermSet) FindMatch(text string) (term string, start, end int, ok bool) {
	normalized, origIndex := normalizeWithMap(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.terms {
		loc := t.pattern.FindStringIndex(normalized)
		if loc == nil {
			continue
		}
		startRune := runeIndexAtByte(normalized, loc[0])
		endRune := runeIndexAtByte(normalized, loc[1])
		return t.original, origIndex[startRune], origIndex[endRune], true
	}
	return "", 0, 0, false
}

// Matches reports whether any forbidden term matches text under
// normalization.
func (s *ForbiddenTermSet) Matches(text string) bool {
	_, _, _, ok := s.FindMatch(text)
	return ok
}

// Redact replaces every matched forbidden-term span in text with
// "***", repeating until no further matches remain (so overlapping or
// multiple distinct terms are all scrubbed).
func (s *ForbiddenTermSet) Redact(text string) (result string, redacted bool) {
	const maxPasses = 16
	current := text
	for i := 0; i < maxPasses; i++ {
		_, start, end, ok := s.FindMatch(current)
		if !ok {
			break
		}
		runes := []rune(current)
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		if start >= end {
			break
		}
		var b strings.Builder
		b.WriteString(string(runes[:start]))
		b.WriteString("***")
		b.WriteString(string(runes[end:]))
		current = b.String()
		redacted = true
	}
	return current, redacted
}

// runeIndexAtByte converts a byte offset in s into a rune index.
func runeIndexAtByte(s string, byteOffset int) int {
	count := 0
	for i := range s {
		if i >= byteOffset {
			return count
		}
		count++
	}
	return count
}

// compileForbiddenPattern normalizes term and builds a regexp that also
// tolerates a single optional inserted vowel (the elongating choonpu or
// a small vowel kana) after each kana syllable, e.g. "ka" also matches
// "kaa".
func compileForbiddenPattern(term string) (*regexp.Regexp, error) {
	normalized := Normalize(term)
	var b strings.Builder
	for _, r := range normalized {
		b.WriteString(regexp.QuoteMeta(string(r)))
		if isKanaRune(r) {
			b.WriteString(`(?:ー|ア|イ|ウ|エ|オ)?`)
		}
	}
	return regexp.Compile(b.String())
}

func containsKana(s string) bool {
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x30ff) || (r >= 0xff66 && r <= 0xff9d) {
			return true
		}
	}
	return false
}

// toKatakanaVariant converts any hiragana runes in s to katakana,
// leaving everything else untouched (a lighter-weight transform than
// the full Normalize pipeline, since this is about producing a second
// literal term to register, not about matching).
func toKatakanaVariant(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r >= 0x3041 && r <= 0x3096 {
			runes[i] = r + 0x60
		}
	}
	return string(runes)
}
