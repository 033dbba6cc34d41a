// Package policy implements length adjustment, forbidden-term
// redaction with normalization-tolerant matching, and emoji
// allow-list/anti-repetition enforcement.
package policy

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalize applies a six-step fold:
//  1. strip whitespace and interpuncts
//  2. half-width kana -> full-width
//  3. hiragana -> katakana
//  4. full-width ASCII -> half-width + lower-case
//  5. collapse long vowels / small kana to their base form
//  6. reduce 3+ character repetitions to 2
//
// Round-trip: Normalize(Normalize(x)) == Normalize(x), since every step
// maps onto its own fixed point.
func Normalize(s string) string {
	norm, _ := normalizeWithMap(s)
	return norm
}

// normalizeWithMap returns the normalized string plus, for every rune
// of the normalized output, the index into the ORIGINAL string's rune
// slice where that normalized rune's contribution began. The slice has
// one extra trailing sentinel equal to len(orig runes), so a match's
// exclusive end boundary can always be looked up by index.
func normalizeWithMap(s string) (string, []int) {
	orig := []rune(s)

	// Stage 1: strip whitespace/interpunct, fold width + kana + small
	// kana/long-vowel, one original rune at a time.
	stage1 := make([]rune, 0, len(orig))
	stage1Orig := make([]int, 0, len(orig))
	for i, r := range orig {
		if isStrippable(r) {
			continue
		}
		nr := foldRune(r)
		if nr == 0 {
			continue
		}
		stage1 = append(stage1, nr)
		stage1Orig = append(stage1Orig, i)
	}

	// Stage 2: collapse runs of 3+ identical runes down to 2.
	out := make([]rune, 0, len(stage1))
	outOrig := make([]int, 0, len(stage1))
	i := 0
	for i < len(stage1) {
		j := i + 1
		for j < len(stage1) && stage1[j] == stage1[i] {
			j++
		}
		keep := j - i
		if keep > 2 {
			keep = 2
		}
		for k := 0; k < keep; k++ {
			out = append(out, stage1[i+k])
			outOrig = append(outOrig, stage1Orig[i+k])
		}
		i = j
	}

	outOrig = append(outOrig, len(orig))
	return string(out), outOrig
}

// isStrippable reports whitespace, middle dots and the '-', '_', '.'
// separators, which the first fold step strips before comparison.
func isStrippable(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '・', // katakana middle dot "・"
		'･', // halfwidth middle dot
		'·', // middle dot "·"
		'-', '_', '.':
		return true
	}
	return false
}

// smallKanaToBase folds small kana (used for combination sounds) to
// their normal-size base form, per step 4.
var smallKanaToBase = map[rune]rune{
	'ァ': 'ア', // ァ -> ア
	'ィ': 'イ', // ィ -> イ
	'ゥ': 'ウ', // ゥ -> ウ
	'ェ': 'エ', // ェ -> エ
	'ォ': 'オ', // ォ -> オ
	'ッ': 'ツ', // ッ -> ツ
	'ャ': 'ヤ', // ャ -> ヤ
	'ュ': 'ユ', // ュ -> ユ
	'ョ': 'ヨ', // ョ -> ヨ
	'ヮ': 'ワ', // ヮ -> ワ
}

// choonpu is the katakana long vowel mark "ー"; it folds away to
// nothing since it only prolongs the preceding vowel sound.
const choonpu = 'ー'

// foldRune applies width folding, hiragana->katakana, and small
// kana/long-vowel folding to a single rune. Returns 0 to drop the rune
// entirely (the long vowel mark).
func foldRune(r rune) rune {
	if r == choonpu {
		return 0
	}

	// Step 1: half-width kana (and half-width punctuation) -> full-width.
	// Step 3 (the ASCII half of width folding) is handled below after
	// hiragana conversion, since width.LookupRune classifies full-width
	// ASCII independently of kana.
	if p := width.LookupRune(r); p.Kind() == width.EastAsianHalfwidth {
		if wide := p.Wide(); wide != 0 {
			r = wide
		}
	}

	// Step 2: hiragana -> katakana (fixed +0x60 offset between blocks).
	if r >= 0x3041 && r <= 0x3096 {
		r += 0x60
	} else if r == 0x309d || r == 0x309e { // hiragana iteration marks
		r += 0x60
	}

	// Step 3: full-width ASCII -> half-width, then lower-case.
	if p := width.LookupRune(r); p.Kind() == width.EastAsianFullwidth {
		if narrow := p.Narrow(); narrow != 0 {
			r = narrow
		}
	}
	r = unicode.ToLower(r)

	// Step 4: small kana -> base kana.
	if base, ok := smallKanaToBase[r]; ok {
		r = base
	}

	return r
}

// isKanaRune reports whether r is a (full-width) katakana syllable,
// used by the forbidden-term matcher to decide where an optional
// inserted vowel is tolerated.
func isKanaRune(r rune) bool {
	return r >= 0x30a1 && r <= 0x30fa
}

// collapseRepeatsForDisplay is a convenience used by tests/log lines
// that want a human-readable normalized form without the internal
// index-tracking machinery.
func collapseRepeatsForDisplay(s string) string {
	return strings.TrimSpace(Normalize(s))
}
