package driver

import (
	"encoding/json"
	"fmt"

	"github.com/abhisek/inquiz/internal/bank"
)

const (
	DriverIDSequential = "category-sequential"
	DriverIDOpen       = "category-open"
	KindSequence       = "sequence"
)

// Closed answer-type enum shared by the category drivers. The judge must
// map every answer onto one of these; schemas may declare aliases.
const (
	AnswerGood         = "good"
	AnswerDirPositive  = "directional_positive"
	AnswerDirNegative  = "directional_negative"
	AnswerNotSpecific  = "not_specific"
	AnswerNotClear     = "not_clear"
	AnswerNotRelevant  = "not_relevant"
	AnswerNotPlausible = "not_plausible"
	AnswerMultipleExpl = "multiple_explanation"
)

// Probe category for the terminal-negative path, distinct from the
// clarification categories.
const CatRedirect = "redirect"

var seqAnswerTypes = map[string]bool{
	AnswerGood:         true,
	AnswerDirPositive:  true,
	AnswerDirNegative:  true,
	AnswerNotSpecific:  true,
	AnswerNotClear:     true,
	AnswerNotRelevant:  true,
	AnswerNotPlausible: true,
	AnswerMultipleExpl: true,
}

// clarifyTypes are the ambiguous categories that earn a clarifying probe
// while the budget lasts.
var clarifyTypes = map[string]bool{
	AnswerNotSpecific: true,
	AnswerNotClear:    true,
}

// Sequence is the shared implementation behind the "sequential" and "open"
// category drivers. Sequential expects the schema's categories in order;
// open accepts any registered theme, counting distinct ones.
type Sequence struct {
	id         string
	sequential bool
}

// NewSequential returns the ordered-category variant.
func NewSequential() *Sequence { return &Sequence{id: DriverIDSequential, sequential: true} }

// NewOpen returns the distinct-theme variant.
func NewOpen() *Sequence { return &Sequence{id: DriverIDOpen} }

func (d *Sequence) ID() string      { return d.id }
func (d *Sequence) Kind() string    { return KindSequence }
func (d *Sequence) Version() string { return "1" }

// seqPolicy is the effective policy shape this driver understands.
type seqPolicy struct {
	// TargetDistinct completes the item once this many distinct qualifying
	// categories/themes have been accepted. Sequential mode defaults to
	// the expected sequence length; open mode defaults to 2.
	TargetDistinct int `json:"targetDistinct"`

	// MaxTotalClarifications caps clarifying probes across the whole item.
	MaxTotalClarifications *int `json:"maxTotalClarifications"`

	// MaxConsecutiveSame caps back-to-back repeats of a clarification for
	// the same category (the first ask is free; this bounds the repeats).
	MaxConsecutiveSame *int `json:"maxConsecutiveSame"`

	// ExpectedSequence is the ordered category list for sequential mode.
	ExpectedSequence []string `json:"expectedSequence"`
}

func (p seqPolicy) maxTotal() int {
	if p.MaxTotalClarifications != nil {
		return *p.MaxTotalClarifications
	}
	return 2
}

func (p seqPolicy) maxConsecutive() int {
	if p.MaxConsecutiveSame != nil {
		return *p.MaxConsecutiveSame
	}
	return 1
}

// seqJudge is the typed judge verdict.
type seqJudge struct {
	AnswerType         string `json:"answer_type"`
	Theme              string `json:"theme"`
	RecommendedProbeID string `json:"recommended_probe_id"`
}

// seqState is the driver-owned payload.
type seqState struct {
	// Satisfied holds distinct accepted categories (sequential) or themes
	// (open), in acceptance order.
	Satisfied []string `json:"satisfied,omitempty"`

	TotalClarifications int    `json:"totalClarifications"`
	LastClarify         string `json:"lastClarify,omitempty"`
	ClarifyStreak       int    `json:"clarifyStreak"`

	UsedProbes []string `json:"usedProbes,omitempty"`

	// History is the raw answer-type sequence, for telemetry.
	History []string `json:"history,omitempty"`
}

func (d *Sequence) BuildJudgeInit(s *bank.Schema, it *bank.Item) JudgeInit {
	ctx := map[string]any{
		"answer_types": []string{
			AnswerGood, AnswerDirPositive, AnswerDirNegative,
			AnswerNotSpecific, AnswerNotClear, AnswerNotRelevant,
			AnswerNotPlausible, AnswerMultipleExpl,
		},
	}
	if it != nil && it.Content != nil {
		if themes, ok := it.Content["themes"]; ok {
			ctx["themes"] = themes
		}
		if scenario, ok := it.Content["scenario"]; ok {
			ctx["scenario"] = scenario
		}
	}
	return JudgeInit{SystemGuidance: s.Guidance, Context: ctx}
}

func (d *Sequence) InitState(_ *bank.Schema, _ *bank.Item) json.RawMessage {
	return mustJSON(seqState{})
}

func (d *Sequence) MigrateState(stored json.RawMessage) json.RawMessage {
	var st seqState
	if len(stored) > 0 {
		_ = json.Unmarshal(stored, &st)
	}
	if st.TotalClarifications < 0 {
		st.TotalClarifications = 0
	}
	if st.ClarifyStreak < 0 {
		st.ClarifyStreak = 0
	}
	return mustJSON(st)
}

func (d *Sequence) ParseJudgeOutput(raw json.RawMessage, s *bank.Schema, _ *bank.Item) (any, error) {
	var j seqJudge
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("%s judge output: %w", d.id, err)
	}
	j.AnswerType = aliasAnswerType(s, j.AnswerType)
	if !seqAnswerTypes[j.AnswerType] {
		return nil, fmt.Errorf("%s: answer type %q is not in the closed enum", d.id, j.AnswerType)
	}
	return j, nil
}

func (d *Sequence) ApplyTurn(in TurnInput) (*Decision, error) {
	var pol seqPolicy
	if err := decodeConfig(in.Policy, &pol); err != nil {
		return nil, fmt.Errorf("%s: %w", d.id, err)
	}
	if d.sequential && len(pol.ExpectedSequence) == 0 {
		pol.ExpectedSequence = expectedSequenceFromItem(in.Item)
	}
	if d.sequential && len(pol.ExpectedSequence) == 0 {
		return nil, fmt.Errorf("%s: no expected sequence configured", d.id)
	}

	judge, _ := in.Judge.(seqJudge)

	var st seqState
	_ = json.Unmarshal(in.State, &st)
	st.History = append(st.History, judge.AnswerType)

	var dec *Decision
	if clarifyTypes[judge.AnswerType] {
		dec = d.clarify(in, &st, pol, judge)
	} else {
		dec = d.evaluate(in, &st, pol, judge)
	}

	target := d.targetDistinct(pol)
	dec.Telemetry = map[string]any{
		"distinct":       len(st.Satisfied),
		"target":         target,
		"clarifications": st.TotalClarifications,
		"answer_type":    judge.AnswerType,
	}
	dec.State = mustJSON(st)
	return dec, nil
}

// clarify handles the ambiguous categories. While both caps hold, the turn
// is neutral and earns a clarifying probe; past either cap the same
// category turns into a terminal negative signal with a redirect probe.
func (d *Sequence) clarify(in TurnInput, st *seqState, pol seqPolicy, judge seqJudge) *Decision {
	repeats := 0
	if st.LastClarify == judge.AnswerType {
		repeats = st.ClarifyStreak
	}

	if st.TotalClarifications >= pol.maxTotal() || repeats > pol.maxConsecutive() {
		st.LastClarify = judge.AnswerType
		st.ClarifyStreak = repeats + 1
		return &Decision{
			Credit: 0,
			Signal: SignalUnproductive,
			Probe:  d.pickProbe(in, st, CatRedirect, ""),
		}
	}

	st.TotalClarifications++
	st.LastClarify = judge.AnswerType
	st.ClarifyStreak = repeats + 1

	return &Decision{
		Credit: 0,
		Signal: SignalNeutral,
		Probe:  d.pickProbe(in, st, judge.AnswerType, judge.RecommendedProbeID),
	}
}

// evaluate handles the canonical categories.
func (d *Sequence) evaluate(in TurnInput, st *seqState, pol seqPolicy, judge seqJudge) *Decision {
	st.LastClarify = ""
	st.ClarifyStreak = 0

	key, qualifies := d.qualify(in, pol, st, judge)
	if !qualifies {
		if key == "" {
			// Negative category: wrong direction, implausible, off-topic.
			return &Decision{
				Credit: 0,
				Signal: SignalUnproductive,
				Probe:  d.pickProbe(in, st, judge.AnswerType, judge.RecommendedProbeID),
			}
		}
		// Qualifying category, but already counted (or out of order):
		// no new ground covered.
		return &Decision{
			Credit: 0,
			Signal: SignalNeutral,
			Badges: []string{"already covered"},
			Probe:  d.pickProbe(in, st, CatGoodCont, judge.RecommendedProbeID),
		}
	}

	st.Satisfied = append(st.Satisfied, key)
	target := d.targetDistinct(pol)

	dec := &Decision{
		Credit: 1,
		Signal: SignalProductive,
		Badges: []string{"new angle"},
	}
	if len(st.Satisfied) >= target {
		dec.Completed = true
	} else {
		dec.Probe = d.pickProbe(in, st, CatGoodCont, judge.RecommendedProbeID)
	}
	return dec
}

// qualify decides whether this turn's answer covers new ground. It returns
// the distinct key to record and whether to record it; a qualifying-but-
// duplicate answer returns (key, false), a negative answer ("", false).
func (d *Sequence) qualify(in TurnInput, pol seqPolicy, st *seqState, judge seqJudge) (string, bool) {
	if d.sequential {
		if judge.AnswerType == AnswerNotRelevant || judge.AnswerType == AnswerNotPlausible {
			return "", false
		}
		next := pol.ExpectedSequence[min(len(st.Satisfied), len(pol.ExpectedSequence)-1)]
		if len(st.Satisfied) < len(pol.ExpectedSequence) && judge.AnswerType == next {
			return judge.AnswerType, true
		}
		for _, expected := range pol.ExpectedSequence {
			if judge.AnswerType == expected {
				// Expected, but not next in order (or already done).
				return judge.AnswerType, false
			}
		}
		return "", false
	}

	// Open mode: "good" answers with a registered theme count.
	if judge.AnswerType != AnswerGood && judge.AnswerType != AnswerDirPositive {
		return "", false
	}
	if judge.Theme == "" || !themeRegistered(in.Item, judge.Theme) {
		return "", false
	}
	for _, s := range st.Satisfied {
		if s == judge.Theme {
			return judge.Theme, false
		}
	}
	return judge.Theme, true
}

func (d *Sequence) targetDistinct(pol seqPolicy) int {
	if pol.TargetDistinct > 0 {
		return pol.TargetDistinct
	}
	if d.sequential && len(pol.ExpectedSequence) > 0 {
		return len(pol.ExpectedSequence)
	}
	return 2
}

func (d *Sequence) pickProbe(in TurnInput, st *seqState, category, recommended string) *Probe {
	library := bank.EffectiveProbes(in.Schema, in.Item)
	p := selectLibraryProbe(library, category, recommended, st.UsedProbes)
	if p == nil {
		return nil
	}
	st.UsedProbes = append(st.UsedProbes, p.ID)
	return p
}

// expectedSequenceFromItem reads content.expectedSequence as []string.
func expectedSequenceFromItem(it *bank.Item) []string {
	if it == nil || it.Content == nil {
		return nil
	}
	raw, ok := it.Content["expectedSequence"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// themeRegistered checks the item's theme registry for an id.
func themeRegistered(it *bank.Item, theme string) bool {
	if it == nil || it.Content == nil {
		return false
	}
	raw, ok := it.Content["themes"].([]any)
	if !ok {
		return false
	}
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			if t == theme {
				return true
			}
		case map[string]any:
			if id, _ := t["id"].(string); id == theme {
				return true
			}
		}
	}
	return false
}
