// Package plan implements the C6 Plan Schema: validating, deduplicating,
// and merging the replacement items an external detector proposes for
// one chunk or span of text.
package plan

import (
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Reason tags a Replacement Item may carry.
const (
	ReasonTTSSpaced       = "TTS_SPACED"
	ReasonUnicodeStylized = "UNICODE_STYLIZED"
	ReasonCaseGlitch      = "CASE_GLITCH"
	ReasonSimplePunct     = "SIMPLE_PUNCT"
)

// Limits from spec.md §3/§4.6.
const (
	MaxFindChars    = 80
	MaxReplaceChars = 80
	MaxItemGrowth   = 10
	MaxPlanItems    = 16
	MaxGrowthRatio  = 0.05
)

const forbiddenChars = "*_[]()`~<>"

// Item is one validated Replacement Item.
type Item struct {
	Find    string
	Replace string
	Reason  string
}

// Plan is a set of Replacement Items scoped to one span or chunk.
type Plan struct {
	Items []Item
}

// Rejection reason names, used as report counter keys under the
// "plan" stage.
const (
	RejectSchema          = "schema"
	RejectForbiddenChars  = "forbidden_chars"
	RejectLengthDelta     = "length_delta"
	RejectNoMatch         = "no_match"
	RejectDuplicate       = "duplicate"
	RejectBudget          = "budget"
	RejectCumulativeDelta = "cumulative_delta"
)

const itemSchemaJSON = `{
	"type": "object",
	"required": ["find", "replace", "reason"],
	"additionalProperties": false,
	"properties": {
		"find": {"type": "string", "minLength": 1, "maxLength": 80, "pattern": "^[^\\n]*$"},
		"replace": {"type": "string", "maxLength": 80, "pattern": "^[^\\n]*$"},
		"reason": {"type": "string", "enum": ["TTS_SPACED", "UNICODE_STYLIZED", "CASE_GLITCH", "SIMPLE_PUNCT"]}
	}
}`

// Validator holds the compiled JSON Schema used for the "schema" check
// and is safe to reuse across every scope in a run.
type Validator struct {
	itemSchema *jsonschema.Schema
}

// NewValidator compiles the item schema once.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ttsmd-plan-item.json", strings.NewReader(itemSchemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("ttsmd-plan-item.json")
	if err != nil {
		return nil, err
	}
	return &Validator{itemSchema: schema}, nil
}

// Rejections counts how many candidate items (or whole plans) were
// dropped for each reason.
type Rejections map[string]int

func (r Rejections) inc(reason string) {
	r[reason]++
}

// Validate runs the per-item checks (in the fixed order: schema,
// forbidden_chars, length_delta, no_match, duplicate) over candidates,
// then the plan-level checks (budget, cumulative_delta) over the
// accepted set. candidates are decoded JSON values (as returned by
// encoding/json.Unmarshal into interface{}) so the schema check can
// catch shape violations — extra fields, wrong types, a blocked or
// unrecognized reason — that a typed struct would silently absorb or
// reject too late to attribute to the right counter.
func (v *Validator) Validate(candidates []interface{}, scopeText string) (Plan, Rejections) {
	rejections := Rejections{}
	var accepted []Item
	seen := make(map[string]bool)

	for _, c := range candidates {
		item, reject, ok := v.checkItem(c, scopeText, seen)
		if !ok {
			rejections.inc(reject)
			continue
		}
		accepted = append(accepted, item)
		seen[dedupKey(item)] = true
	}

	if len(accepted) > MaxPlanItems {
		rejections.inc(RejectBudget)
		return Plan{}, rejections
	}
	if !withinGrowthBudget(accepted, scopeText) {
		rejections.inc(RejectCumulativeDelta)
		return Plan{}, rejections
	}
	return Plan{Items: accepted}, rejections
}

func (v *Validator) checkItem(candidate interface{}, scopeText string, seen map[string]bool) (Item, string, bool) {
	if err := v.itemSchema.Validate(candidate); err != nil {
		return Item{}, RejectSchema, false
	}
	m, ok := candidate.(map[string]interface{})
	if !ok {
		return Item{}, RejectSchema, false
	}
	find, _ := m["find"].(string)
	replace, _ := m["replace"].(string)
	reason, _ := m["reason"].(string)
	item := Item{Find: find, Replace: replace, Reason: reason}

	if strings.ContainsAny(replace, forbiddenChars) {
		return Item{}, RejectForbiddenChars, false
	}
	if utf8.RuneCountInString(replace)-utf8.RuneCountInString(find) > MaxItemGrowth {
		return Item{}, RejectLengthDelta, false
	}
	if !strings.Contains(scopeText, find) {
		return Item{}, RejectNoMatch, false
	}
	if seen[dedupKey(item)] {
		return Item{}, RejectDuplicate, false
	}
	return item, "", true
}

func dedupKey(it Item) string {
	return it.Find + "\x00" + it.Replace
}

func withinGrowthBudget(items []Item, scopeText string) bool {
	delta := 0
	for _, it := range items {
		delta += utf8.RuneCountInString(it.Replace) - utf8.RuneCountInString(it.Find)
	}
	if delta <= 0 {
		return true
	}
	limit := float64(utf8.RuneCountInString(scopeText)) * MaxGrowthRatio
	return float64(delta) <= limit
}

// Merge unions items accepted for a span's chunks by (find, replace),
// keeping the first occurrence's reason, then re-checks the merged set against the plan-level limits
// using the full span as scope.
func Merge(chunkPlans []Plan, spanText string) (Plan, Rejections) {
	rejections := Rejections{}
	seen := make(map[string]bool)
	var merged []Item
	for _, p := range chunkPlans {
		for _, it := range p.Items {
			k := dedupKey(it)
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, it)
		}
	}

	if len(merged) > MaxPlanItems {
		rejections.inc(RejectBudget)
		return Plan{}, rejections
	}
	if !withinGrowthBudget(merged, spanText) {
		rejections.inc(RejectCumulativeDelta)
		return Plan{}, rejections
	}
	return Plan{Items: merged}, rejections
}
