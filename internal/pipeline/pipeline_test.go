package pipeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gonkalabs/ttsmd/internal/plan"
	"github.com/gonkalabs/ttsmd/internal/prepass"
)

// stubDetector returns a fixed set of candidate items for every chunk
// it is asked about, regardless of the chunk's content.
type stubDetector struct {
	candidates []interface{}
	err        error
}

func (d *stubDetector) Detect(ctx context.Context, text string) ([]interface{}, error) {
	return d.candidates, d.err
}

func mustValidator(t *testing.T) *plan.Validator {
	t.Helper()
	v, err := plan.NewValidator()
	if err != nil {
		t.Fatalf("plan.NewValidator: %v", err)
	}
	return v
}

func TestPipelineSpacedLettersSeedScenario(t *testing.T) {
	steps, err := ParseSteps("mask,prepass-basic,prepass-advanced")
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	adv := prepass.NewAdvanced(nil, "")
	p := New(steps, adv, nil, mustValidator(t))

	result, err := p.Run(context.Background(), "F ʟ ᴀ s ʜ!")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("status = %q, want done", result.Status)
	}
	if diff := cmp.Diff("Flash!", result.Output); diff != "" {
		t.Errorf("Output mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineFencePreserved(t *testing.T) {
	steps, _ := ParseSteps("mask,prepass-basic,prepass-advanced")
	adv := prepass.NewAdvanced(nil, "")
	p := New(steps, adv, nil, mustValidator(t))

	input := "before\n```go\nfmt.Println(1)\n```\nafter"
	result, err := p.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(input, result.Output); diff != "" {
		t.Errorf("fence block was altered (-want +got):\n%s", diff)
	}
}

func TestPipelineProtectedLinkURLSurvivesDetectAndApply(t *testing.T) {
	steps, _ := ParseSteps("mask,detect,apply")
	det := &stubDetector{candidates: []interface{}{
		map[string]interface{}{"find": "Resolve", "replace": "Answer!", "reason": plan.ReasonCaseGlitch},
	}}
	p := New(steps, nil, det, mustValidator(t))

	input := "[By My Resolve](https://example.com/song)"
	result, err := p.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("status = %q, want done", result.Status)
	}
	if !contains(result.Output, "https://example.com/song") {
		t.Errorf("Output = %q, want the link URL preserved byte-for-byte", result.Output)
	}
	if !contains(result.Output, "By My Answer!") {
		t.Errorf("Output = %q, want the link text rewritten", result.Output)
	}
}

func TestPipelineDetectorChunkFailureDowngradesToEmptyPlan(t *testing.T) {
	steps, _ := ParseSteps("mask,detect,apply")
	det := &stubDetector{err: &stubError{}}
	p := New(steps, nil, det, mustValidator(t))

	result, err := p.Run(context.Background(), "some ordinary prose to correct")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("status = %q, want done (detector failures are non-fatal)", result.Status)
	}
	if len(result.Plan.Items) != 0 {
		t.Errorf("Plan = %+v, want empty plan when the detector never succeeds", result.Plan)
	}
}

func TestPipelineValidatorRejectsBracketDroppingReplacement(t *testing.T) {
	steps, _ := ParseSteps("mask,detect,apply")
	// "[not a link]" never matches the link pattern (no trailing
	// "(url)"), so it survives prepare() as literal, editable text; a
	// same-length replacement that drops both brackets clears plan-level
	// review (no forbidden chars, zero growth) but breaks V3 bracket
	// balance once applied.
	det := &stubDetector{candidates: []interface{}{
		map[string]interface{}{"find": "[not a link]", "replace": "no link here", "reason": plan.ReasonSimplePunct},
	}}
	p := New(steps, nil, det, mustValidator(t))

	input := "He said [not a link] today"
	result, err := p.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("status = %q, want rejected", result.Status)
	}
	if diff := cmp.Diff(input, result.Output); diff != "" {
		t.Errorf("rejected run must restore the pre-apply document (-want +got):\n%s", diff)
	}
}

func TestPipelineConfigErrorWhenDetectRequestedWithoutDetector(t *testing.T) {
	steps, _ := ParseSteps("mask,detect")
	p := New(steps, nil, nil, mustValidator(t))

	_, err := p.Run(context.Background(), "text")
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("err = %v (%T), want *ConfigError", err, err)
	}
}

func TestPipelineInputErrorOnInvalidUTF8(t *testing.T) {
	steps, _ := ParseSteps("mask")
	p := New(steps, nil, nil, mustValidator(t))

	_, err := p.Run(context.Background(), "bad \xff\xfe bytes")
	if _, ok := err.(*InputError); !ok {
		t.Fatalf("err = %v (%T), want *InputError", err, err)
	}
}

type stubError struct{}

func (e *stubError) Error() string         { return "stub detector failure" }
func (e *stubError) RejectionKind() string { return "network" }

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
