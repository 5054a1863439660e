package sources

import (
	"regexp"
	"sort"
	"strings"
)

// Set consolidates differently-formatted attribution strings into a
// minimal canonical set, keyed by lower-cased form. It is scoped to one
// country run and discarded afterwards.
type Set struct {
	entries map[string]string // lower-cased -> display form
}

func NewSet() *Set {
	return &Set{entries: map[string]string{}}
}

var (
	abbreviations      = strings.NewReplacer("M/o", "Ministry of", "+", "/")
	separators         = strings.NewReplacer(",", "/", ";", "/")
	governmentMinistry = regexp.MustCompile(`Government.*,(Ministry.*)`)
)

// Consolidate splits raw into source fragments and inserts each one
// unless a near-duplicate is already present. First seen wins,
// case-insensitive, at the fragment level.
func (s *Set) Consolidate(raw string) {
	raw = abbreviations.Replace(raw)

	var fragments []string
	if match := governmentMinistry.FindStringSubmatch(raw); match != nil {
		fragments = []string{match[1]}
	} else {
		fragments = strings.Split(separators.Replace(raw), "/")
	}

	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		fragment = strings.TrimSuffix(fragment, ".")
		lower := strings.ToLower(fragment)
		if strings.Contains(lower, "mvam") && len(lower) <= 8 {
			fragment = "WFP mVAM"
		} else if strings.Contains(fragment, "?stica") {
			// known mis-encoded diacritic in one upstream feed
			fragment = strings.ReplaceAll(fragment, "?stica", "ística")
		}
		lower = strings.ToLower(fragment)
		if !s.matches(lower) {
			s.entries[lower] = fragment
		}
	}
}

// matches reports whether candidate is a near-duplicate of an existing
// key. Single-word strings never match anything.
func (s *Set) matches(candidate string) bool {
	if len(strings.Split(candidate, " ")) < 2 {
		return false
	}
	found := false
	for existing := range s.entries {
		if len(strings.Split(existing, " ")) < 2 {
			continue
		}
		if Ratio(candidate, existing) > 0.9 {
			found = true
		}
	}
	return found
}

func (s *Set) Len() int {
	return len(s.entries)
}

// Values returns the canonical display strings in sorted order.
func (s *Set) Values() []string {
	values := make([]string, 0, len(s.entries))
	for _, display := range s.entries {
		values = append(values, display)
	}
	sort.Strings(values)
	return values
}

// Line returns the dataset-level attribution line.
func (s *Set) Line() string {
	return strings.Join(s.Values(), ", ")
}

// Ratio is the sequence-similarity ratio of two strings: twice the
// number of characters in common (over recursively found longest
// matching blocks) divided by the total length.
func Ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchedChars(ra, rb, 0, len(ra), 0, len(rb))) / float64(total)
}

func matchedChars(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}
	return size +
		matchedChars(a, b, alo, i, blo, j) +
		matchedChars(a, b, i+size, ahi, j+size, bhi)
}

func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (int, int, int) {
	b2j := make(map[rune][]int)
	for j := blo; j < bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	besti, bestj, bestsize := alo, blo, 0
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}
