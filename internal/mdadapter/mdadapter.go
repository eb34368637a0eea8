// Package mdadapter locates protected Markdown regions in a raw
// document and yields a masked document (protected regions replaced
// by sentinel tokens) plus the ordered list of editable text spans.
//
// The scan is a single left-to-right pass: at every byte offset it
// tries the protected-region patterns in the fixed priority order
// below, first match wins, and the matched range becomes one token.
// Everything the scan does not recognize as protected becomes part of
// the current text span. The priority table is an explicit ordered
// list of (kind, matcher) pairs rather than ad-hoc branching, so
// changes to the protected-region taxonomy stay localized (see the
// Design Notes on regex priority tables).
package mdadapter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gonkalabs/ttsmd/internal/mask"
)

// Kind identifies a protected region's category.
type Kind int

const (
	KindFence Kind = iota
	KindInlineCode
	KindHTMLBlock
	KindInlineHTML
	KindImage
	KindLink
	KindAutolink
	KindBareURL
	KindDisplayMath
	KindInlineMath
)

// Span is a contiguous byte range in the masked document that is
// editable: not a mask token, and not inside a protected region's
// non-editable portion.
type Span struct {
	Start int
	End   int
}

// Result is what Prepare produces for one document.
type Result struct {
	Masked string
	Table  *mask.Table
	Spans  []Span
}

// FenceError reports a fenced code block that never closes.
type FenceError struct{ Pos int }

func (e *FenceError) Error() string {
	return fmt.Sprintf("unterminated_fence: opened at byte %d", e.Pos)
}

// InlineCodeError reports a backtick run with no matching closing run.
type InlineCodeError struct{ Pos int }

func (e *InlineCodeError) Error() string {
	return fmt.Sprintf("unbalanced_inline_code: run opened at byte %d", e.Pos)
}

type matchFn func(text string, pos int) (end int, ok bool, err error)

type rule struct {
	kind  Kind
	match matchFn // nil for KindLink, which is handled specially
}

// rules is the fixed priority table from spec.md §3: fenced code,
// inline code, raw HTML block, inline HTML tag, image, link,
// autolink, bare URL, display math, inline math.
var rules = []rule{
	{KindFence, matchFence},
	{KindInlineCode, matchInlineCode},
	{KindHTMLBlock, matchHTMLBlock},
	{KindInlineHTML, anchored(inlineHTMLRe)},
	{KindImage, anchored(imageRe)},
	{KindLink, nil},
	{KindAutolink, anchored(autolinkRe)},
	{KindBareURL, anchored(bareURLRe)},
	{KindDisplayMath, anchored(displayMathRe)},
	{KindInlineMath, anchored(inlineMathRe)},
}

var (
	inlineHTMLRe = regexp.MustCompile(`\A</?[A-Za-z][A-Za-z0-9-]*(?:\s+[^<>]*?)?/?>`)
	imageRe      = regexp.MustCompile(`\A!\[[^\]\n]*\]\([^)\n]*\)`)
	linkRe       = regexp.MustCompile(`\A\[[^\]\n]*\]\([^)\n]*\)`)
	linkCaptureRe = regexp.MustCompile(`\A\[([^\]\n]*)\]\(([^)\n]*)\)`)
	autolinkRe   = regexp.MustCompile(`\A<(?:[a-zA-Z][a-zA-Z0-9+.-]*://|mailto:)[^\s<>]+>`)
	bareURLRe    = regexp.MustCompile(`\A(?:https?|ftp)://[^\s<>)\]]+`)
	displayMathRe = regexp.MustCompile(`(?s)\A\$\$.+?\$\$`)
	inlineMathRe  = regexp.MustCompile(`\A\$[^$\n]+\$`)

	htmlCommentRe      = regexp.MustCompile(`(?s)\A<!--.*?-->`)
	htmlCDATARe        = regexp.MustCompile(`(?s)\A<!\[CDATA\[.*?\]\]>`)
	htmlDeclRe         = regexp.MustCompile(`\A<![A-Za-z][^>\n]*>`)
	htmlBlockTagStartRe = regexp.MustCompile(`\A</?[A-Za-z]`)
)

// anchored adapts a \A-anchored regexp into a matchFn.
func anchored(re *regexp.Regexp) matchFn {
	return func(text string, pos int) (int, bool, error) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil || loc[0] != 0 {
			return 0, false, nil
		}
		return pos + loc[1], true, nil
	}
}

func atLineStart(text string, pos int) bool {
	return pos == 0 || text[pos-1] == '\n'
}

// matchFence recognizes a fenced code block: an opening line of three
// or more identical backticks or tildes, through the matching closing
// line (same character, length >= opening length), inclusive of both
// fence lines. Backtick fences may not carry a backtick in their info
// string. RE2 cannot back-reference the opening run, so the scan is
// hand-written rather than expressed as one regexp.
func matchFence(text string, pos int) (int, bool, error) {
	if !atLineStart(text, pos) || pos >= len(text) {
		return 0, false, nil
	}
	ch := text[pos]
	if ch != '`' && ch != '~' {
		return 0, false, nil
	}
	j := pos
	for j < len(text) && text[j] == ch {
		j++
	}
	fenceLen := j - pos
	if fenceLen < 3 {
		return 0, false, nil
	}

	nl := strings.IndexByte(text[j:], '\n')
	var infoEnd int
	if nl == -1 {
		infoEnd = len(text)
	} else {
		infoEnd = j + nl
	}
	if ch == '`' && strings.IndexByte(text[j:infoEnd], '`') >= 0 {
		return 0, false, nil // backtick fence info string can't contain a backtick
	}
	if nl == -1 {
		return 0, false, &FenceError{Pos: pos}
	}

	searchPos := infoEnd + 1
	for searchPos <= len(text) {
		lineStart := searchPos
		nextNL := strings.IndexByte(text[lineStart:], '\n')
		lineEnd := len(text)
		if nextNL != -1 {
			lineEnd = lineStart + nextNL
		}
		line := text[lineStart:lineEnd]
		trimmed := strings.TrimLeft(line, " \t")
		run := 0
		for run < len(trimmed) && trimmed[run] == ch {
			run++
		}
		if run >= fenceLen && strings.TrimRight(trimmed[run:], " \t") == "" {
			if nextNL != -1 {
				return lineEnd + 1, true, nil
			}
			return lineEnd, true, nil
		}
		if nextNL == -1 {
			break
		}
		searchPos = lineEnd + 1
	}
	return 0, false, &FenceError{Pos: pos}
}

// matchInlineCode recognizes a run of N backticks through the next run
// of exactly N backticks. A run of any other length is plain content
// and scanning continues past it.
func matchInlineCode(text string, pos int) (int, bool, error) {
	if pos >= len(text) || text[pos] != '`' {
		return 0, false, nil
	}
	j := pos
	for j < len(text) && text[j] == '`' {
		j++
	}
	n := j - pos

	k := j
	for k < len(text) {
		if text[k] != '`' {
			k++
			continue
		}
		runStart := k
		for k < len(text) && text[k] == '`' {
			k++
		}
		if k-runStart == n {
			return k, true, nil
		}
	}
	return 0, false, &InlineCodeError{Pos: pos}
}

// matchHTMLBlock recognizes comments, CDATA sections, declarations,
// and generic "<tag ...> ... blank line" raw HTML blocks, all anchored
// to the start of a line.
func matchHTMLBlock(text string, pos int) (int, bool, error) {
	if !atLineStart(text, pos) {
		return 0, false, nil
	}
	rest := text[pos:]
	if loc := htmlCommentRe.FindStringIndex(rest); loc != nil {
		return pos + loc[1], true, nil
	}
	if loc := htmlCDATARe.FindStringIndex(rest); loc != nil {
		return pos + loc[1], true, nil
	}
	if loc := htmlDeclRe.FindStringIndex(rest); loc != nil {
		return pos + loc[1], true, nil
	}
	if !htmlBlockTagStartRe.MatchString(rest) {
		return 0, false, nil
	}
	if blank := strings.Index(rest, "\n\n"); blank >= 0 {
		return pos + blank, true, nil
	}
	return len(text), true, nil
}

type linkParts struct {
	text     string
	urlTitle string
}

func matchLinkParts(text string, pos int) (int, linkParts, bool) {
	loc := linkRe.FindStringIndex(text[pos:])
	if loc == nil || loc[0] != 0 {
		return 0, linkParts{}, false
	}
	full := text[pos : pos+loc[1]]
	m := linkCaptureRe.FindStringSubmatch(full)
	if m == nil {
		return 0, linkParts{}, false
	}
	return pos + loc[1], linkParts{text: m[1], urlTitle: m[2]}, true
}

// Prepare scans md and returns the masked document, its mask table,
// and the editable text spans (byte offsets into the masked document).
func Prepare(md string) (Result, error) {
	t := mask.New()
	var out strings.Builder
	var spans []Span
	spanStart := -1

	flush := func() {
		if spanStart >= 0 && out.Len() > spanStart {
			spans = append(spans, Span{Start: spanStart, End: out.Len()})
		}
		spanStart = -1
	}

	pos := 0
	for pos < len(md) {
		matched := false
		for _, r := range rules {
			if r.kind == KindLink {
				if end, parts, ok := matchLinkParts(md, pos); ok {
					flush()
					out.WriteByte('[')
					textStart := out.Len()
					out.WriteString(parts.text)
					if out.Len() > textStart {
						spans = append(spans, Span{Start: textStart, End: out.Len()})
					}
					out.WriteString("](")
					out.WriteString(t.Mask(parts.urlTitle))
					out.WriteByte(')')
					pos = end
					matched = true
					break
				}
				continue
			}
			end, ok, err := r.match(md, pos)
			if err != nil {
				return Result{}, err
			}
			if ok {
				flush()
				out.WriteString(t.Mask(md[pos:end]))
				pos = end
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if spanStart < 0 {
			spanStart = out.Len()
		}
		r, size := utf8.DecodeRuneInString(md[pos:])
		out.WriteRune(r)
		pos += size
	}
	flush()

	return Result{Masked: out.String(), Table: t, Spans: spans}, nil
}
