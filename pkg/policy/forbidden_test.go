package policy

import (
	"strings"
	"testing"
)

func TestForbiddenTermSet_RedactsNormalizedVariant(t *testing.T) {
	set := NewForbiddenTermSet("バカ")

	result, redacted := set.Redact("ばかああ野郎")
	if !redacted {
		t.Fatalf("expected a redaction, got none for %q", result)
	}
	if !strings.Contains(result, "***") {
		t.Fatalf("expected result to contain ***, got %q", result)
	}
	if strings.Contains(Normalize(result), "バカ") {
		t.Fatalf("normalized result still contains forbidden term: %q", Normalize(result))
	}
}

func TestForbiddenTermSet_RegistersKatakanaVariant(t *testing.T) {
	set := NewForbiddenTermSet("ばか")
	terms := set.Terms()
	if len(terms) != 2 {
		t.Fatalf("expected hiragana term to also register a katakana variant, got %v", terms)
	}
	if !set.Matches("バカ") {
		t.Fatalf("expected katakana input to match hiragana-registered term")
	}
}

func TestForbiddenTermSet_NoMatchLeavesTextUntouched(t *testing.T) {
	set := NewForbiddenTermSet("バカ")
	result, redacted := set.Redact("すごい配信でした")
	if redacted {
		t.Fatalf("expected no redaction, got %q", result)
	}
	if result != "すごい配信でした" {
		t.Fatalf("text should be unchanged, got %q", result)
	}
}

func TestForbiddenTermSet_ToleratesInsertedVowel(t *testing.T) {
	set := NewForbiddenTermSet("バカ")
	if !set.Matches("バァカァ") {
		t.Fatalf("expected vowel-inserted variant to match")
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	inputs := []string{"ばかああ野郎", "ＡＢＣｄｅｆ", "こんにちは・・・", "バァカァ"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

