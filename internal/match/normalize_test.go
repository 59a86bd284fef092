package match

import (
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"Song Title", "song title"},
		{"Song Title (Extended Mix)", "song title"},
		{"Song Title [Radio Edit]", "song title"},
		{"Song Title - Remastered", "song title"},
		{"  Spaced   Out  ", "spaced out"},
		{"Rock & Roll", "rock and roll"},
		{"Don't Stop", "dont stop"},
		{"", ""},
	}

	for _, tc := range testCases {
		if got := NormalizeTitle(tc.input); got != tc.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeArtist(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"The Beatles", "the beatles"},
		{"Beatles, The", "the beatles"},
		{"AC-DC", "ac dc"},
		{"Simon & Garfunkel", "simon and garfunkel"},
	}

	for _, tc := range testCases {
		if got := NormalizeArtist(tc.input); got != tc.want {
			t.Errorf("NormalizeArtist(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeAppliesNFC(t *testing.T) {
	// "é" composed vs decomposed must normalize identically
	composed := "café"
	decomposed := "café"
	if Normalize(composed) != Normalize(decomposed) {
		t.Error("expected NFC to unify composed and decomposed forms")
	}
}

func TestTokenSetRatio(t *testing.T) {
	testCases := []struct {
		a, b string
		want float64
	}{
		{"one two three", "one two three", 1.0},
		{"one two three", "three two one", 1.0},
		{"one two", "three four", 0.0},
		{"one two three four", "one two three", 6.0 / 7.0},
		{"", "anything", 0.0},
		{"", "", 0.0},
	}

	for _, tc := range testCases {
		got := TokenSetRatio(tc.a, tc.b)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("TokenSetRatio(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestTokenSetRatioIgnoresRepetition(t *testing.T) {
	if got := TokenSetRatio("la la la land", "la land"); got != 1.0 {
		t.Errorf("expected repeated tokens to collapse, got %f", got)
	}
}

func TestNgrams(t *testing.T) {
	grams := Ngrams("abcd", 3)
	if len(grams) != 2 {
		t.Fatalf("expected 2 trigrams, got %d", len(grams))
	}
	if !grams["abc"] || !grams["bcd"] {
		t.Errorf("unexpected trigram set %v", grams)
	}

	short := Ngrams("ab", 3)
	if len(short) != 1 || !short["ab"] {
		t.Errorf("expected short string to yield itself, got %v", short)
	}

	if len(Ngrams("", 3)) != 0 {
		t.Error("expected no grams for empty string")
	}
}

func TestJaccard(t *testing.T) {
	a := Ngrams("night drive", 3)
	b := Ngrams("night drive", 3)
	if got := Jaccard(a, b); got != 1.0 {
		t.Errorf("identical sets should score 1.0, got %f", got)
	}

	c := Ngrams("completely different", 3)
	if got := Jaccard(a, c); got > 0.1 {
		t.Errorf("unrelated sets should score near 0, got %f", got)
	}

	if got := Jaccard(a, map[string]bool{}); got != 0 {
		t.Errorf("empty set should score 0, got %f", got)
	}
}

func TestJaccardTypoTolerance(t *testing.T) {
	a := Ngrams("midnight city m83", 3)
	b := Ngrams("midnight cty m83", 3)
	if got := Jaccard(a, b); got < 0.6 {
		t.Errorf("expected a single-character typo to stay above 0.6, got %f", got)
	}
}
