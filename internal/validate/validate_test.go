package validate

import (
	"testing"

	"github.com/gonkalabs/ttsmd/internal/mask"
)

func oneEntryTable(token, original string) []mask.Entry {
	return []mask.Entry{{Token: token, Original: original}}
}

func TestValidateCleanRewritePasses(t *testing.T) {
	before := "Say F l a s h! loudly __MASKED_0__"
	after := "Say Flash! loudly __MASKED_0__"
	violations := Validate(before, after, oneEntryTable("__MASKED_0__", "`code`"))
	if len(violations) != 0 {
		t.Errorf("violations = %v, want none", violations)
	}
}

func TestV1MaskParityViolatesOnDroppedToken(t *testing.T) {
	before := "a __MASKED_0__ b"
	after := "a b"
	violations := Validate(before, after, oneEntryTable("__MASKED_0__", "x"))
	assertViolated(t, violations, V1MaskParity)
}

func TestV1MaskParityViolatesOnDuplicatedToken(t *testing.T) {
	before := "a __MASKED_0__ b"
	after := "a __MASKED_0__ __MASKED_0__ b"
	violations := Validate(before, after, oneEntryTable("__MASKED_0__", "x"))
	assertViolated(t, violations, V1MaskParity)
}

func TestV2BacktickParityViolatesWhenCountChanges(t *testing.T) {
	before := "use `code` here"
	after := "use code here"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V2BacktickParity)
}

func TestV3BracketBalanceViolatesWhenBracketDropped(t *testing.T) {
	before := "see [link](url) now"
	after := "see link(url) now"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V3BracketBalance)
}

func TestV4LinkSanityViolatesWhenMarkerCountChanges(t *testing.T) {
	before := "[a](b) and [c](d)"
	after := "[a](b) and c(d)"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V4LinkSanity)
}

func TestV5FenceParityViolatesOnOddRunCount(t *testing.T) {
	before := "```go\ncode\n```"
	after := "```go\ncode"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V5FenceParity)
}

func TestV6TokenGuardViolatesWhenGuardedCharsIncrease(t *testing.T) {
	before := "plain text"
	after := "plain *text*"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V6TokenGuard)
}

func TestV6TokenGuardIgnoresMaskTokenContent(t *testing.T) {
	// The guard strips mask tokens before counting, so the underscores in
	// a token literal are never counted as guarded characters.
	before := "plain __MASKED_0__ text"
	after := "plain __MASKED_0__ text"
	violations := Validate(before, after, oneEntryTable("__MASKED_0__", "*a*"))
	assertNotViolated(t, violations, V6TokenGuard)
}

func TestV7LengthDeltaViolatesOnExcessiveGrowth(t *testing.T) {
	before := "short"
	after := "this output is very much longer than the original input text by far"
	violations := Validate(before, after, nil)
	assertViolated(t, violations, V7LengthDelta)
}

func TestV7LengthDeltaAllowsSmallGrowth(t *testing.T) {
	before := "exactly one hundred characters of filler text used only to size this fixture for the test cases here"
	after := before + "!"
	violations := Validate(before, after, nil)
	assertNotViolated(t, violations, V7LengthDelta)
}

func assertViolated(t *testing.T, violations []string, law string) {
	t.Helper()
	for _, v := range violations {
		if v == law {
			return
		}
	}
	t.Errorf("violations = %v, want %s among them", violations, law)
}

func assertNotViolated(t *testing.T, violations []string, law string) {
	t.Helper()
	for _, v := range violations {
		if v == law {
			t.Errorf("violations = %v, did not want %s", violations, law)
			return
		}
	}
}
