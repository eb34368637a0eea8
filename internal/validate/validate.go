// Package validate implements the C8 Structural Validator: the seven
// whole-document laws that must hold across a rewrite before its
// output is accepted.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gonkalabs/ttsmd/internal/mask"
)

// Law names, used verbatim as report counter names under the
// "validate" stage.
const (
	V1MaskParity     = "V1_mask_parity"
	V2BacktickParity = "V2_backtick_parity"
	V3BracketBalance = "V3_bracket_balance"
	V4LinkSanity     = "V4_link_sanity"
	V5FenceParity    = "V5_fence_parity"
	V6TokenGuard     = "V6_token_guard"
	V7LengthDelta    = "V7_length_delta"
)

var tokenRe = regexp.MustCompile(`__MASKED_\d+__`)

// Validate checks before/after against the seven laws and returns the
// names of every law that failed; an empty slice means the rewrite is
// structurally sound.
func Validate(before, after string, table []mask.Entry) []string {
	var violated []string

	if !maskParityHolds(before, after, table) {
		violated = append(violated, V1MaskParity)
	}
	if strings.Count(before, "`") != strings.Count(after, "`") {
		violated = append(violated, V2BacktickParity)
	}
	if !bracketsBalance(before, after) {
		violated = append(violated, V3BracketBalance)
	}
	if strings.Count(before, "](") != strings.Count(after, "](") {
		violated = append(violated, V4LinkSanity)
	}
	if !fenceParityHolds(before, after) {
		violated = append(violated, V5FenceParity)
	}
	if !tokenGuardHolds(before, after) {
		violated = append(violated, V6TokenGuard)
	}
	if !lengthDeltaHolds(before, after) {
		violated = append(violated, V7LengthDelta)
	}

	return violated
}

func maskParityHolds(before, after string, table []mask.Entry) bool {
	beforeCounts := mask.CountAll(before, table)
	afterCounts := mask.CountAll(after, table)
	for _, e := range table {
		if beforeCounts[e.Token] != afterCounts[e.Token] {
			return false
		}
	}
	return true
}

func bracketsBalance(before, after string) bool {
	for _, r := range []rune{'[', ']', '(', ')'} {
		if strings.Count(before, string(r)) != strings.Count(after, string(r)) {
			return false
		}
	}
	return true
}

func fenceParityHolds(before, after string) bool {
	b := countFenceRuns(before)
	a := countFenceRuns(after)
	return b%2 == 0 && a%2 == 0 && b == a
}

func countFenceRuns(text string) int {
	return strings.Count(text, "```") + strings.Count(text, "~~~")
}

// tokenGuardHolds checks that stripping mask tokens from after leaves
// no more occurrences of the guarded characters than stripping them
// from before did — a rewrite may remove these characters (e.g.
// normalizing away stray markup) but must never introduce new ones.
func tokenGuardHolds(before, after string) bool {
	return guardedCharCount(after) <= guardedCharCount(before)
}

func guardedCharCount(text string) int {
	stripped := tokenRe.ReplaceAllString(text, "")
	return strings.Count(stripped, "*") + strings.Count(stripped, "_") +
		strings.Count(stripped, "~") + strings.Count(stripped, "<") + strings.Count(stripped, ">")
}

func lengthDeltaHolds(before, after string) bool {
	b := float64(utf8.RuneCountInString(before))
	a := float64(utf8.RuneCountInString(after))
	return a <= 1.01*b
}
