// Package mask implements the sentinel mask table: opaque placeholder
// tokens that stand in for protected Markdown constructs while the
// rest of the pipeline rewrites the surrounding text.
package mask

import (
	"fmt"
	"strings"
)

// tokenPrefix and tokenSuffix delimit a mask token. A token has the
// literal shape __MASKED_<i>__ where i is the entry's zero-based
// index in the table.
const (
	tokenPrefix = "__MASKED_"
	tokenSuffix = "__"
)

// Entry is one (token, original) pair in the table, in the order the
// token was minted.
type Entry struct {
	Token    string
	Original string
}

// Table is an ordered sequence of mask entries produced while scanning
// one document. It is built incrementally by Mask and is read-only to
// every stage downstream of the adapter that built it.
type Table struct {
	entries []Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Len returns the number of entries minted so far.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the table's entries in ascending index order. The
// returned slice must not be mutated by the caller.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Mask mints a new token for original and appends it to the table.
// Tokens are never reused for repeated originals: every protected
// region gets its own index, even if byte-identical to an earlier one,
// so that restoration is a simple 1:1 replay of the table.
func (t *Table) Mask(original string) string {
	tok := Token(len(t.entries))
	t.entries = append(t.entries, Entry{Token: tok, Original: original})
	return tok
}

// Token formats the token literal for index i.
func Token(i int) string {
	return fmt.Sprintf("%s%d%s", tokenPrefix, i, tokenSuffix)
}

// ErrParity is returned by Unmask when a token's occurrence count in
// text is not exactly one.
type ErrParity struct {
	Token string
	Count int
}

func (e *ErrParity) Error() string {
	return fmt.Sprintf("mask_parity_violation: token %s occurs %d times, want 1", e.Token, e.Count)
}

// Unmask replays the table over text in ascending index order,
// replacing each token with its original exactly once. It fails with
// *ErrParity if any token is found zero or more-than-one times.
func Unmask(text string, entries []Entry) (string, error) {
	for _, e := range entries {
		n := strings.Count(text, e.Token)
		if n != 1 {
			return "", &ErrParity{Token: e.Token, Count: n}
		}
		text = strings.Replace(text, e.Token, e.Original, 1)
	}
	return text, nil
}

// Count reports how many times token appears in text.
func Count(text, token string) int {
	return strings.Count(text, token)
}

// CountAll reports the occurrence count of every table entry's token
// in text, keyed by token. Used by the structural validator's V1 law.
func CountAll(text string, entries []Entry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.Token] = strings.Count(text, e.Token)
	}
	return out
}
