package mask

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaskUnmaskRoundTrip(t *testing.T) {
	table := New()
	tok1 := table.Mask("```go\nfmt.Println(1)\n```")
	tok2 := table.Mask("https://example.com/x")

	text := "before " + tok1 + " middle " + tok2 + " after"
	got, err := Unmask(text, table.Entries())
	if err != nil {
		t.Fatalf("Unmask: %v", err)
	}
	want := "before ```go\nfmt.Println(1)\n``` middle https://example.com/x after"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unmask mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskNeverReusesTokens(t *testing.T) {
	table := New()
	tok1 := table.Mask("same")
	tok2 := table.Mask("same")
	if tok1 == tok2 {
		t.Errorf("expected distinct tokens for duplicate originals, got %q twice", tok1)
	}
}

func TestUnmaskParityViolationZeroOccurrences(t *testing.T) {
	table := New()
	table.Mask("x")
	_, err := Unmask("this text lost its token", table.Entries())
	var perr *ErrParity
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ErrParity, got %v", err)
	}
	if perr.Count != 0 {
		t.Errorf("Count = %d, want 0", perr.Count)
	}
}

func TestUnmaskParityViolationDuplicateOccurrences(t *testing.T) {
	table := New()
	tok := table.Mask("x")
	_, err := Unmask(tok+" "+tok, table.Entries())
	var perr *ErrParity
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ErrParity, got %v", err)
	}
	if perr.Count != 2 {
		t.Errorf("Count = %d, want 2", perr.Count)
	}
}

func TestCountAll(t *testing.T) {
	table := New()
	tok1 := table.Mask("a")
	tok2 := table.Mask("b")
	text := tok1 + tok1 + tok2
	counts := CountAll(text, table.Entries())
	if counts[tok1] != 2 {
		t.Errorf("counts[tok1] = %d, want 2", counts[tok1])
	}
	if counts[tok2] != 1 {
		t.Errorf("counts[tok2] = %d, want 1", counts[tok2])
	}
}
