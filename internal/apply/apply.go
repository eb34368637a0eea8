// Package apply implements the C7 Applier: committing an accepted
// plan's replacement items into a masked document's text spans.
package apply

import (
	"sort"
	"strings"

	"github.com/gonkalabs/ttsmd/internal/mdadapter"
	"github.com/gonkalabs/ttsmd/internal/plan"
)

// Counters tallies what happened while applying a plan.
type Counters struct {
	ReplacementsApplied int
	OverlapSkipped      int
	StaleNoMatch        int
}

// Add accumulates another span's counters into the receiver.
func (c *Counters) Add(o Counters) {
	c.ReplacementsApplied += o.ReplacementsApplied
	c.OverlapSkipped += o.OverlapSkipped
	c.StaleNoMatch += o.StaleNoMatch
}

type byteSpan struct{ start, end int }

type claim struct {
	byteSpan
	item plan.Item
}

// Apply resolves every plan item against each text span of maskedMD
// independently and returns the rewritten document plus aggregate
// counters. Matches are found against each span's original content
// (not re-scanned after a replacement), so overlap resolution and
// staleness are both judged against a single, stable snapshot per
// span.
func Apply(maskedMD string, spans []mdadapter.Span, p plan.Plan) (string, Counters) {
	if len(p.Items) == 0 || len(spans) == 0 {
		return maskedMD, Counters{}
	}

	var b strings.Builder
	b.Grow(len(maskedMD))
	cursor := 0
	var total Counters

	for _, span := range spans {
		b.WriteString(maskedMD[cursor:span.Start])
		rewritten, c := applySpan(maskedMD[span.Start:span.End], p)
		b.WriteString(rewritten)
		total.Add(c)
		cursor = span.End
	}
	b.WriteString(maskedMD[cursor:])
	return b.String(), total
}

func applySpan(text string, p plan.Plan) (string, Counters) {
	var c Counters
	var claims []claim

	for _, item := range p.Items {
		matches := findAllOccurrences(text, item.Find)
		if len(matches) == 0 {
			c.StaleNoMatch++
			continue
		}
		for _, m := range matches {
			if overlapsAny(m, claims) {
				c.OverlapSkipped++
				continue
			}
			claims = append(claims, claim{byteSpan: m, item: item})
			c.ReplacementsApplied++
		}
	}

	if len(claims) == 0 {
		return text, c
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].start < claims[j].start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, cl := range claims {
		b.WriteString(text[pos:cl.start])
		b.WriteString(cl.item.Replace)
		pos = cl.end
	}
	b.WriteString(text[pos:])
	return b.String(), c
}

// findAllOccurrences returns the non-overlapping byte ranges where
// find occurs in text, scanned left to right.
func findAllOccurrences(text, find string) []byteSpan {
	var out []byteSpan
	pos := 0
	for {
		idx := strings.Index(text[pos:], find)
		if idx < 0 {
			break
		}
		start := pos + idx
		end := start + len(find)
		out = append(out, byteSpan{start, end})
		pos = end
	}
	return out
}

func overlapsAny(s byteSpan, claims []claim) bool {
	for _, cl := range claims {
		if s.start < cl.end && cl.start < s.end {
			return true
		}
	}
	return false
}
