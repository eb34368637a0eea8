// Package prepass implements the two deterministic Markdown-text
// rewrite stages (C3 "basic" and C4 "advanced"). Both operate purely
// on a single text span's content: given a string they return a
// rewritten string plus a count of each fix they applied. Neither
// stage is aware of mask tokens or of the rest of the document — the
// orchestrator is the only thing that stitches spans back into the
// masked document.
package prepass

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// BasicStats counts the fixes C3 applied to one span.
type BasicStats struct {
	NFKCChanged      int // 1 if compatibility composition altered the span, else 0
	StylizedFolded   int
	ZeroWidthRemoved int
	SpaceRunsCollapsed int
	SoftHyphenRejoins int
	NBSPNormalized   int
}

// Add accumulates another span's stats into the receiver.
func (s *BasicStats) Add(o BasicStats) {
	s.NFKCChanged += o.NFKCChanged
	s.StylizedFolded += o.StylizedFolded
	s.ZeroWidthRemoved += o.ZeroWidthRemoved
	s.SpaceRunsCollapsed += o.SpaceRunsCollapsed
	s.SoftHyphenRejoins += o.SoftHyphenRejoins
	s.NBSPNormalized += o.NBSPNormalized
}

// stylizedFold maps the small-capital Latin letters (IPA/Phonetic
// Extensions) that "fancy text" generators substitute for plain
// ASCII onto their ordinary lowercase form. NFKC does not decompose
// this block, so it needs its own table.
var stylizedFold = map[rune]rune{
	'ᴀ': 'a', 'ʙ': 'b', 'ᴄ': 'c', 'ᴅ': 'd', 'ᴇ': 'e', 'ꜰ': 'f',
	'ɢ': 'g', 'ʜ': 'h', 'ɪ': 'i', 'ᴊ': 'j', 'ᴋ': 'k', 'ʟ': 'l',
	'ᴍ': 'm', 'ɴ': 'n', 'ᴏ': 'o', 'ᴘ': 'p', 'ʀ': 'r',
	'ᴛ': 't', 'ᴜ': 'u', 'ᴠ': 'v', 'ᴡ': 'w', 'ʏ': 'y', 'ᴢ': 'z',
}

const (
	zwsp = '\u200b'
	zwnj = '\u200c'
	zwj  = '\u200d'
	bom  = '\ufeff'
	nbsp = '\u00a0'

	// nbspPlaceholder stands in for a digit-adjacent NBSP while NFKC
	// runs, since NFKC's compatibility decomposition unconditionally
	// maps NBSP to an ordinary space (<noBreak> 0020 in UnicodeData)
	// and would otherwise erase the numeric-context exception before
	// protectNumericNBSP's caller ever gets to act on it. Private-use,
	// so NFKC leaves it alone.
	nbspPlaceholder = '\ue000'
)

var (
	spaceRunRe   = regexp.MustCompile(` {2,}`)
	softHyphenRe = regexp.MustCompile(`([\p{L}])[-\x{00AD}]\n([\p{L}])`)
)

// Basic runs the C3 pipeline over one span: NFKC composition (with
// digit-adjacent NBSPs shielded from it), stylized small-caps folding,
// zero-width stripping, ASCII space-run collapse, and soft-hyphen
// rejoin, in that order. The order is chosen so a second call on the
// output is a no-op (idempotence is a spec invariant): folding and
// NFKC both map onto plain ASCII/composed forms outside their own
// input alphabets, a digit-adjacent NBSP stays shielded on every
// pass, and any space run left behind — whether NFKC just converted a
// non-numeric NBSP into a space next to one that was already there, or
// the input simply had two ASCII spaces in a row — is swept up by the
// space-run collapse that always runs afterward, so a second pass
// finds nothing left to do.
func Basic(span string) (string, BasicStats) {
	var stats BasicStats

	protected, shielded := protectNumericNBSP(span)
	stats.NBSPNormalized = strings.Count(span, string(nbsp)) - shielded

	normalized := norm.NFKC.String(protected)
	if shielded > 0 {
		normalized = strings.ReplaceAll(normalized, string(nbspPlaceholder), string(nbsp))
	}
	if normalized != span {
		stats.NFKCChanged = 1
	}
	s := normalized

	s, stats.StylizedFolded = foldStylized(s)
	s, stats.ZeroWidthRemoved = stripZeroWidth(s)

	if matches := spaceRunRe.FindAllStringIndex(s, -1); matches != nil {
		stats.SpaceRunsCollapsed = len(matches)
	}
	s = spaceRunRe.ReplaceAllString(s, " ")

	if matches := softHyphenRe.FindAllStringIndex(s, -1); matches != nil {
		stats.SoftHyphenRejoins = len(matches)
	}
	s = softHyphenRe.ReplaceAllString(s, "$1$2")

	return s, stats
}

// foldStylized replaces every small-capital letter in s with its plain
// ASCII lowercase counterpart.
func foldStylized(s string) (string, int) {
	count := 0
	for _, r := range s {
		if _, ok := stylizedFold[r]; ok {
			count++
		}
	}
	if count == 0 {
		return s, 0
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := stylizedFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), count
}

func stripZeroWidth(s string) (string, int) {
	if !strings.ContainsAny(s, string([]rune{zwsp, zwnj, zwj, bom})) {
		return s, 0
	}
	var b strings.Builder
	b.Grow(len(s))
	count := 0
	for _, r := range s {
		switch r {
		case zwsp, zwnj, zwj, bom:
			count++
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), count
}

// protectNumericNBSP shields every digit-adjacent NBSP (a numeric
// context, e.g. "100 km") behind a private-use placeholder so the
// NFKC pass that runs right after can't silently fold it into an
// ordinary space. NBSPs outside a numeric context are left as NBSP
// too, relying on NFKC's own compatibility decomposition to turn them
// into a plain space; any run of spaces that decomposition produces
// (by landing next to an existing space, or because two were already
// adjacent in the input) is left for the space-run collapse step that
// always runs later in Basic, rather than re-implemented here.
func protectNumericNBSP(s string) (string, int) {
	if !strings.ContainsRune(s, nbsp) {
		return s, 0
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	shielded := 0
	for i, r := range runes {
		if r != nbsp {
			b.WriteRune(r)
			continue
		}
		var prev, next rune = -1, -1
		if i > 0 {
			prev = runes[i-1]
		}
		if i < len(runes)-1 {
			next = runes[i+1]
		}
		if isDigit(prev) || isDigit(next) {
			b.WriteRune(nbspPlaceholder)
			shielded++
			continue
		}
		b.WriteRune(nbsp)
	}
	return b.String(), shielded
}

func isDigit(r rune) bool {
	return r >= 0 && unicode.IsDigit(r)
}
