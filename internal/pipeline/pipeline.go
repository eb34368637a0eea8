// Package pipeline implements the C9 Pipeline Orchestrator: the state
// machine that runs the masking, prepass, detect, and apply stages
// over one document and produces its rewrite plus a run report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gonkalabs/ttsmd/internal/apply"
	"github.com/gonkalabs/ttsmd/internal/chunk"
	"github.com/gonkalabs/ttsmd/internal/mask"
	"github.com/gonkalabs/ttsmd/internal/mdadapter"
	"github.com/gonkalabs/ttsmd/internal/plan"
	"github.com/gonkalabs/ttsmd/internal/prepass"
	"github.com/gonkalabs/ttsmd/internal/report"
	"github.com/gonkalabs/ttsmd/internal/validate"
)

// Step names the five stages a run may request.
type Step string

const (
	StepMask            Step = "mask"
	StepPrepassBasic    Step = "prepass-basic"
	StepPrepassAdvanced Step = "prepass-advanced"
	StepDetect          Step = "detect"
	StepApply           Step = "apply"
)

// ParseSteps parses a comma-separated step list, rejecting unknown
// names. Order in the input does not matter; the orchestrator always
// runs the five stages in their fixed dependency order.
func ParseSteps(csv string) ([]Step, error) {
	var steps []Step
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch Step(part) {
		case StepMask, StepPrepassBasic, StepPrepassAdvanced, StepDetect, StepApply:
			steps = append(steps, Step(part))
		default:
			return nil, &ConfigError{Err: fmt.Errorf("unknown step %q", part)}
		}
	}
	if len(steps) == 0 {
		return nil, &ConfigError{Err: errors.New("no steps specified")}
	}
	return steps, nil
}

func hasStep(steps []Step, s Step) bool {
	for _, st := range steps {
		if st == s {
			return true
		}
	}
	return false
}

// Detector proposes replacement items for one chunk of text. The
// returned values are decoded JSON (map[string]interface{} per item)
// so plan.Validate can run its schema check against the raw shape.
type Detector interface {
	Detect(ctx context.Context, text string) ([]interface{}, error)
}

// detectKinder is implemented by detector errors that know which
// rejection counter they belong under.
type detectKinder interface {
	error
	RejectionKind() string
}

// InputError wraps a failure reading or parsing the input document:
// non-UTF-8 bytes, an unterminated fence, unbalanced inline code.
type InputError struct{ Err error }

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// ConfigError wraps an unknown step name or a stage requested without
// the configuration it needs.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// InvariantError wraps a mask-restoration failure: a token occurring
// zero or more than once during unmask.
type InvariantError struct{ Err error }

func (e *InvariantError) Error() string { return e.Err.Error() }
func (e *InvariantError) Unwrap() error { return e.Err }

// Result is the outcome of one Run.
type Result struct {
	Output         string
	Plan           plan.Plan
	Report         *report.Report
	Status         string // "done", "rejected", or "failed"
	RejectedOutput string // set only when Status == "rejected"
}

const (
	StatusDone     = "done"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Pipeline is constructed once per run with its immutable
// configuration and collaborators.
type Pipeline struct {
	steps     []Step
	advanced  *prepass.Advanced
	detector  Detector
	validator *plan.Validator
}

// New builds a Pipeline. advanced and detector may be nil if the
// corresponding steps are not requested; Run reports a ConfigError if
// a step is requested without its collaborator configured.
func New(steps []Step, advanced *prepass.Advanced, detector Detector, validator *plan.Validator) *Pipeline {
	return &Pipeline{steps: steps, advanced: advanced, detector: detector, validator: validator}
}

// Run executes the configured steps over inputMD: INIT -> MASKED ->
// (PREPASS_BASIC? -> PREPASS_ADVANCED?) -> (DETECTED -> VALIDATED_PLAN
// -> APPLIED -> VALIDATED_DOC) -> UNMASKED -> DONE. Any fatal failure
// returns a non-nil error with Status "failed" on the Result; a
// structural rejection is not an error — it reports Status "rejected"
// with the pre-apply document restored as Output.
func (p *Pipeline) Run(ctx context.Context, inputMD string) (Result, error) {
	rep := report.New()

	if !utf8.ValidString(inputMD) {
		return Result{Report: rep, Status: StatusFailed}, &InputError{Err: errors.New("input is not valid UTF-8")}
	}

	prepared, err := mdadapter.Prepare(inputMD)
	if err != nil {
		return Result{Report: rep, Status: StatusFailed}, &InputError{Err: err}
	}
	rep.Add("mask", "tokens_emitted", prepared.Table.Len())

	maskedText := prepared.Masked
	spans := prepared.Spans

	if hasStep(p.steps, StepPrepassBasic) {
		maskedText, spans = p.runBasic(maskedText, spans, rep)
	}
	if hasStep(p.steps, StepPrepassAdvanced) {
		if p.advanced == nil {
			return Result{Report: rep, Status: StatusFailed},
				&ConfigError{Err: errors.New("prepass-advanced requested without an acronym whitelist configured")}
		}
		maskedText, spans = p.runAdvanced(maskedText, spans, rep)
	}

	var finalPlan plan.Plan
	preApplyText := maskedText

	if hasStep(p.steps, StepDetect) {
		if p.detector == nil {
			return Result{Report: rep, Status: StatusFailed},
				&ConfigError{Err: errors.New("detect requested without a detector endpoint configured")}
		}
		finalPlan = p.runDetect(ctx, spans, maskedText, rep)
	}

	if hasStep(p.steps, StepApply) {
		applied, counters := apply.Apply(maskedText, spans, finalPlan)
		rep.Add("apply", "replacements_applied", counters.ReplacementsApplied)
		rep.Add("apply", "overlap_skipped", counters.OverlapSkipped)
		rep.Add("apply", "stale_no_match", counters.StaleNoMatch)

		violations := validate.Validate(preApplyText, applied, prepared.Table.Entries())
		if len(violations) > 0 {
			for _, v := range violations {
				rep.Inc("validate", v)
			}
			rejectedOut, _ := mask.Unmask(applied, prepared.Table.Entries())
			restoredOut, uerr := mask.Unmask(preApplyText, prepared.Table.Entries())
			if uerr != nil {
				return Result{Report: rep, Status: StatusFailed}, &InvariantError{Err: uerr}
			}
			return Result{
				Output:         restoredOut,
				Plan:           finalPlan,
				Report:         rep,
				Status:         StatusRejected,
				RejectedOutput: rejectedOut,
			}, nil
		}
		maskedText = applied
	}

	out, err := mask.Unmask(maskedText, prepared.Table.Entries())
	if err != nil {
		return Result{Report: rep, Status: StatusFailed}, &InvariantError{Err: err}
	}
	return Result{Output: out, Plan: finalPlan, Report: rep, Status: StatusDone}, nil
}

// runBasic rewrites every span with prepass.Basic, rebuilding the
// masked document and the span offsets in one pass since the content
// between spans (mask tokens) never changes length.
func (p *Pipeline) runBasic(text string, spans []mdadapter.Span, rep *report.Report) (string, []mdadapter.Span) {
	var stats prepass.BasicStats
	newText, newSpans := rewriteSpans(text, spans, func(s string) string {
		rewritten, st := prepass.Basic(s)
		stats.Add(st)
		return rewritten
	})
	rep.Add("prepass-basic", "nfkc_changed", stats.NFKCChanged)
	rep.Add("prepass-basic", "stylized_folded", stats.StylizedFolded)
	rep.Add("prepass-basic", "zero_width_removed", stats.ZeroWidthRemoved)
	rep.Add("prepass-basic", "space_runs_collapsed", stats.SpaceRunsCollapsed)
	rep.Add("prepass-basic", "soft_hyphen_rejoins", stats.SoftHyphenRejoins)
	rep.Add("prepass-basic", "nbsp_normalized", stats.NBSPNormalized)
	return newText, newSpans
}

func (p *Pipeline) runAdvanced(text string, spans []mdadapter.Span, rep *report.Report) (string, []mdadapter.Span) {
	var stats prepass.AdvancedStats
	newText, newSpans := rewriteSpans(text, spans, func(s string) string {
		rewritten, st := p.advanced.Apply(s)
		stats.Add(st)
		return rewritten
	})
	rep.Add("prepass-advanced", "spaced_letters_joined", stats.SpacedLettersJoined)
	rep.Add("prepass-advanced", "all_caps_titled", stats.AllCapsTitled)
	rep.Add("prepass-advanced", "punctuation_runs_collapsed", stats.PunctuationRunsCollapsed)
	rep.Add("prepass-advanced", "ellipses_normalized", stats.EllipsesNormalized)
	rep.Add("prepass-advanced", "mid_word_caps_fixed", stats.MidWordCapsFixed)
	return newText, newSpans
}

// rewriteSpans rewrites each span's content with fn and stitches the
// result back together with the unchanged gaps (mask tokens and
// Markdown punctuation) between them, returning the new text and each
// span's new offsets in it.
func rewriteSpans(text string, spans []mdadapter.Span, fn func(string) string) (string, []mdadapter.Span) {
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	newSpans := make([]mdadapter.Span, len(spans))
	for i, sp := range spans {
		b.WriteString(text[cursor:sp.Start])
		start := b.Len()
		b.WriteString(fn(text[sp.Start:sp.End]))
		newSpans[i] = mdadapter.Span{Start: start, End: b.Len()}
		cursor = sp.End
	}
	b.WriteString(text[cursor:])
	return b.String(), newSpans
}

// runDetect chunks every span, asks the detector for a plan per
// chunk, merges chunk plans into a span-scoped plan, and unions every
// span's accepted plan into the document-wide plan apply uses.
func (p *Pipeline) runDetect(ctx context.Context, spans []mdadapter.Span, text string, rep *report.Report) plan.Plan {
	var docItems []plan.Item
	seen := make(map[string]bool)

	for _, span := range spans {
		spanText := text[span.Start:span.End]
		windows := chunk.Chunk(spanText)
		if len(windows) == 0 {
			continue
		}

		var chunkPlans []plan.Plan
		for _, w := range windows {
			rep.Inc("detect", "windows_attempted")
			candidates, err := p.detector.Detect(ctx, w.Text)
			if err != nil {
				rep.Inc("detect", "rejections."+detectKind(err))
				continue
			}
			chunkPlan, rejections := p.validator.Validate(candidates, w.Text)
			for reason, n := range rejections {
				rep.Add("plan", reason, n)
			}
			chunkPlans = append(chunkPlans, chunkPlan)
		}

		spanPlan, rejections := plan.Merge(chunkPlans, spanText)
		for reason, n := range rejections {
			rep.Add("plan", reason, n)
		}

		for _, it := range spanPlan.Items {
			key := it.Find + "\x00" + it.Reason + "\x00" + it.Replace
			if seen[key] {
				continue
			}
			seen[key] = true
			docItems = append(docItems, it)
		}
	}

	return plan.Plan{Items: docItems}
}

func detectKind(err error) string {
	var k detectKinder
	if errors.As(err, &k) {
		return k.RejectionKind()
	}
	return "network"
}
