package prepass

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newAdvanced(whitelist ...string) *Advanced {
	wl := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		wl[w] = struct{}{}
	}
	return NewAdvanced(wl, "")
}

func TestAdvancedJoinsSpacedLetters(t *testing.T) {
	a := newAdvanced()
	got, stats := a.Apply("S p l i t! now")
	want := "Split! now"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if stats.SpacedLettersJoined != 1 {
		t.Errorf("SpacedLettersJoined = %d, want 1", stats.SpacedLettersJoined)
	}
}

func TestAdvancedSpacedLettersWhitelistIsSpared(t *testing.T) {
	a := newAdvanced("nasa")
	got, stats := a.Apply("a N A S A launch")
	if got != "a N A S A launch" {
		t.Errorf("got %q, want spacing preserved", got)
	}
	if stats.SpacedLettersJoined != 0 {
		t.Errorf("SpacedLettersJoined = %d, want 0", stats.SpacedLettersJoined)
	}
}

func TestAdvancedTitleCasesAllCaps(t *testing.T) {
	a := newAdvanced()
	got, stats := a.Apply("HELLOTHERE friend")
	want := "Hellothere friend"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if stats.AllCapsTitled != 1 {
		t.Errorf("AllCapsTitled = %d, want 1", stats.AllCapsTitled)
	}
}

func TestAdvancedAllCapsWhitelistIsSpared(t *testing.T) {
	a := newAdvanced("unesco")
	got, _ := a.Apply("word UNESCO word")
	if got != "word UNESCO word" {
		t.Errorf("got %q, want UNESCO preserved", got)
	}
}

func TestAdvancedCollapsesPunctuationRuns(t *testing.T) {
	a := newAdvanced()
	got, stats := a.Apply("wait!!! really??")
	want := "wait! really?"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if stats.PunctuationRunsCollapsed != 2 {
		t.Errorf("PunctuationRunsCollapsed = %d, want 2", stats.PunctuationRunsCollapsed)
	}
}

func TestAdvancedNormalizesEllipsis(t *testing.T) {
	a := newAdvanced()
	got, stats := a.Apply("wait. . . really")
	want := "wait... really"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if stats.EllipsesNormalized != 1 {
		t.Errorf("EllipsesNormalized = %d, want 1", stats.EllipsesNormalized)
	}
}

func TestAdvancedEllipsisCustomForm(t *testing.T) {
	a := NewAdvanced(map[string]struct{}{}, "…")
	got, _ := a.Apply("wait... really")
	if got != "wait… really" {
		t.Errorf("got %q, want the unicode ellipsis form", got)
	}
}

func TestAdvancedFixesMidWordCaps(t *testing.T) {
	a := newAdvanced()
	got, stats := a.Apply("say HeLLo now")
	want := "say Hello now"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if stats.MidWordCapsFixed != 1 {
		t.Errorf("MidWordCapsFixed = %d, want 1", stats.MidWordCapsFixed)
	}
}

func TestAdvancedIsIdempotent(t *testing.T) {
	a := newAdvanced()
	inputs := []string{
		"F ʟ ᴀ s ʜ!",
		"HELLOTHERE friend",
		"wait!!! really??",
		"wait. . . really",
		"say HeLLo now",
		"plain prose with nothing to fix",
	}
	for _, in := range inputs {
		once, _ := a.Apply(in)
		twice, _ := a.Apply(once)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("Apply(%q) not idempotent (-once +twice):\n%s", in, diff)
		}
	}
}
