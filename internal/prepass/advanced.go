package prepass

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AdvancedStats counts the fixes C4 applied to one span.
type AdvancedStats struct {
	SpacedLettersJoined int
	AllCapsTitled       int
	PunctuationRunsCollapsed int
	EllipsesNormalized  int
	MidWordCapsFixed    int
}

// Add accumulates another span's stats into the receiver.
func (s *AdvancedStats) Add(o AdvancedStats) {
	s.SpacedLettersJoined += o.SpacedLettersJoined
	s.AllCapsTitled += o.AllCapsTitled
	s.PunctuationRunsCollapsed += o.PunctuationRunsCollapsed
	s.EllipsesNormalized += o.EllipsesNormalized
	s.MidWordCapsFixed += o.MidWordCapsFixed
}

// Advanced is the C4 stage. It is constructed once with a read-only
// acronym whitelist snapshot and the configured ellipsis form; no
// stage reloads the whitelist mid-run.
type Advanced struct {
	whitelist    map[string]struct{} // lowercase
	ellipsisForm string
	titleCaser   cases.Caser
}

// NewAdvanced builds the C4 stage. ellipsisForm is the canonical
// ellipsis rendering ("..." by default, or "…"); whitelist entries are
// matched case-insensitively against the pre-transformation token.
func NewAdvanced(whitelist map[string]struct{}, ellipsisForm string) *Advanced {
	if ellipsisForm == "" {
		ellipsisForm = "..."
	}
	return &Advanced{
		whitelist:    whitelist,
		ellipsisForm: ellipsisForm,
		titleCaser:   cases.Title(language.Und),
	}
}

// Go's regexp has no backreferences, so "a run of the SAME punctuation
// character" is matched as an alternation over the three punctuation
// marks the spec calls out, rather than one backreferenced pattern.
var (
	spacedLettersRe = regexp.MustCompile(`\p{L}(?: \p{L}){2,}`)
	allCapsRe       = regexp.MustCompile(`[A-Z][A-Z']{5,}`)
	punctRunRe      = regexp.MustCompile(`!{2,}|\?{2,}|,{2,}`)
	ellipsisRe      = regexp.MustCompile(`…|\.(?:[ \t]*\.){1,}`)
	wordRe          = regexp.MustCompile(`\p{L}{4,}`)
)

// Apply runs the C4 pipeline over one span, in the order: spaced-letter
// join, ALL-CAPS title-casing, punctuation-run collapse, ellipsis
// normalization, mid-word capitalization fix.
func (a *Advanced) Apply(span string) (string, AdvancedStats) {
	var stats AdvancedStats

	s, n := a.joinSpacedLetters(span)
	stats.SpacedLettersJoined = n

	s, n = a.titleCaseAllCaps(s)
	stats.AllCapsTitled = n

	if matches := punctRunRe.FindAllStringIndex(s, -1); matches != nil {
		stats.PunctuationRunsCollapsed = len(matches)
	}
	s = punctRunRe.ReplaceAllStringFunc(s, func(m string) string { return m[:1] })

	if matches := ellipsisRe.FindAllStringIndex(s, -1); matches != nil {
		stats.EllipsesNormalized = len(matches)
	}
	s = ellipsisRe.ReplaceAllString(s, a.ellipsisForm)

	s, n = a.fixMidWordCaps(s)
	stats.MidWordCapsFixed = n

	return s, stats
}

func (a *Advanced) whitelisted(token string) bool {
	_, ok := a.whitelist[strings.ToLower(token)]
	return ok
}

// joinSpacedLetters collapses runs of >=3 single-letter tokens
// separated by single spaces ("F ʟ ᴀ s ʜ") into one joined token,
// unless the joined form is on the acronym whitelist (meaning it is a
// deliberately spelled-out acronym that should keep its spacing).
func (a *Advanced) joinSpacedLetters(s string) (string, int) {
	count := 0
	out := spacedLettersRe.ReplaceAllStringFunc(s, func(m string) string {
		joined := strings.ReplaceAll(m, " ", "")
		if a.whitelisted(joined) {
			return m
		}
		count++
		return joined
	})
	return out, count
}

// titleCaseAllCaps converts ALL-CAPS runs longer than five characters
// to Title Case, unless the run is on the whitelist.
func (a *Advanced) titleCaseAllCaps(s string) (string, int) {
	count := 0
	out := allCapsRe.ReplaceAllStringFunc(s, func(m string) string {
		if a.whitelisted(m) {
			return m
		}
		count++
		return a.titleCaser.String(strings.ToLower(m))
	})
	return out, count
}

// fixMidWordCaps lowercases stray internal capitals in words longer
// than three letters ("HeLLo" -> "Hello"), leaving the first letter's
// case untouched, unless the word is already all-caps (handled by
// titleCaseAllCaps) or its leading two letters are on the whitelist.
func (a *Advanced) fixMidWordCaps(s string) (string, int) {
	count := 0
	out := wordRe.ReplaceAllStringFunc(s, func(word string) string {
		runes := []rune(word)
		if len(runes) <= 3 {
			return word
		}
		if allUpper(runes) {
			return word
		}
		if !hasMidCap(runes) {
			return word
		}
		lead := string(runes[:2])
		if a.whitelisted(lead) || a.whitelisted(word) {
			return word
		}
		count++
		fixed := make([]rune, len(runes))
		fixed[0] = runes[0]
		for i := 1; i < len(runes); i++ {
			fixed[i] = unicode.ToLower(runes[i])
		}
		return string(fixed)
	})
	return out, count
}

func allUpper(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

func hasMidCap(runes []rune) bool {
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) {
			return true
		}
	}
	return false
}
