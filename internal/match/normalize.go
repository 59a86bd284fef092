package match

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize prepares a tag value for comparison: Unicode NFC, lowercase,
// punctuation stripped, whitespace collapsed.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	s = removePunctuation(s)
	return collapseWhitespace(s)
}

// NormalizeTitle normalizes a track title, additionally stripping version
// suffixes so "Song (Extended Mix)" and "Song" land in the same block.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}

	title = norm.NFC.String(title)
	title = strings.ToLower(title)
	title = strings.TrimSpace(title)
	title = removeVersionSuffixes(title)
	title = removePunctuation(title)
	return collapseWhitespace(title)
}

// NormalizeArtist normalizes an artist name for blocking
func NormalizeArtist(artist string) string {
	if artist == "" {
		return ""
	}

	artist = norm.NFC.String(artist)
	artist = strings.ToLower(artist)
	artist = strings.TrimSpace(artist)

	// "Artist, The" -> "the artist"
	if strings.HasSuffix(artist, ", the") {
		artist = "the " + strings.TrimSuffix(artist, ", the")
	}

	artist = removePunctuation(artist)
	return collapseWhitespace(artist)
}

// Tokens splits a normalized string into its unique sorted tokens
func Tokens(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]bool, len(fields))
	unique := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			unique = append(unique, f)
		}
	}
	sort.Strings(unique)
	return unique
}

// TokenSetRatio computes the Dice coefficient over the token sets of two
// normalized strings: 1.0 for identical sets, 0.0 for disjoint ones.
// Token order and repetition do not matter.
func TokenSetRatio(a, b string) float64 {
	tokensA := Tokens(a)
	tokensB := Tokens(b)
	if len(tokensA) == 0 && len(tokensB) == 0 {
		return 0
	}
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, tok := range tokensA {
		setA[tok] = true
	}

	common := 0
	for _, tok := range tokensB {
		if setA[tok] {
			common++
		}
	}

	return 2 * float64(common) / float64(len(tokensA)+len(tokensB))
}

// Ngrams returns the set of character n-grams of a normalized string,
// spaces included so word boundaries count.
func Ngrams(s string, n int) map[string]bool {
	grams := make(map[string]bool)
	runes := []rune(s)
	if len(runes) < n {
		if len(runes) > 0 {
			grams[string(runes)] = true
		}
		return grams
	}
	for i := 0; i+n <= len(runes); i++ {
		grams[string(runes[i:i+n])] = true
	}
	return grams
}

// Jaccard computes set similarity between two n-gram sets
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for gram := range a {
		if b[gram] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// removePunctuation removes common punctuation characters
func removePunctuation(s string) string {
	replacer := strings.NewReplacer(
		".", "",
		",", "",
		"!", "",
		"?", "",
		"'", "",
		"\"", "",
		":", "",
		";", "",
		"-", " ",
		"_", " ",
		"&", "and",
		"(", " ",
		")", " ",
		"[", " ",
		"]", " ",
		"/", "",
	)
	return replacer.Replace(s)
}

// collapseWhitespace replaces runs of whitespace with a single space
var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// removeVersionSuffixes strips remix/edit/live qualifiers so different
// pressings of the same recording compare equal on title
var versionSuffixRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\([^)]*?(remix|live|acoustic|demo|instrumental|radio|edit|extended|version|mix|remaster|bootleg|dub|rework|vip).*?\)`),
	regexp.MustCompile(`(?i)\s*\[[^\]]*?(remix|live|acoustic|demo|instrumental|radio|edit|extended|version|mix|remaster|bootleg|dub|rework|vip).*?\]`),
	regexp.MustCompile(`(?i)\s+(remastered|remix|live|acoustic|demo|instrumental|original mix|extended mix|radio edit)$`),
}

func removeVersionSuffixes(s string) string {
	for _, re := range versionSuffixRes {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
