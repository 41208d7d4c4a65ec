package driver

import (
	"encoding/json"
	"fmt"

	"github.com/abhisek/inquiz/internal/bank"
)

const (
	DriverIDPathScored = "path-scored"
	KindPath           = "path"
)

// PathScored records the ordered sequence of canonical answer types and
// scores the item by which named path pattern the sequence ends up
// matching. Clarifications are bookkept but never enter the sequence.
type PathScored struct{}

// NewPathScored returns the path-scored driver.
func NewPathScored() *PathScored { return &PathScored{} }

func (d *PathScored) ID() string      { return DriverIDPathScored }
func (d *PathScored) Kind() string    { return KindPath }
func (d *PathScored) Version() string { return "1" }

// pathPattern is one named path. Patterns are evaluated in declaration
// order; the first exact match wins.
type pathPattern struct {
	Name string `json:"name"`

	// Sequence is the ordered answer-type shape this path describes.
	Sequence []string `json:"sequence"`

	// Score is the path's terminal score. Schemas may override per path.
	Score float64 `json:"score"`
}

// pathScoring is the scoring config shape.
type pathScoring struct {
	Paths []pathPattern `json:"paths"`

	// MaxTurns bounds the recorded sequence; reaching it with no exact
	// match forces the terminal "never" path.
	MaxTurns int `json:"maxTurns"`

	// NeverScore is the forced terminal path's score. Default 0.
	NeverScore float64 `json:"neverScore"`

	// Clarification budget, same semantics as the sequence drivers.
	MaxTotalClarifications *int `json:"maxTotalClarifications"`
}

func (c pathScoring) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return 6
}

func (c pathScoring) maxClarifications() int {
	if c.MaxTotalClarifications != nil {
		return *c.MaxTotalClarifications
	}
	return 2
}

// pathState is the driver-owned payload.
type pathState struct {
	Sequence            []string `json:"sequence,omitempty"`
	TotalClarifications int      `json:"totalClarifications"`
	UsedProbes          []string `json:"usedProbes,omitempty"`
}

func (d *PathScored) BuildJudgeInit(s *bank.Schema, it *bank.Item) JudgeInit {
	ctx := map[string]any{
		"answer_types": []string{
			AnswerGood, AnswerDirPositive, AnswerDirNegative,
			AnswerNotSpecific, AnswerNotClear, AnswerNotRelevant,
			AnswerNotPlausible, AnswerMultipleExpl,
		},
	}
	if it != nil && it.Content != nil {
		if scenario, ok := it.Content["scenario"]; ok {
			ctx["scenario"] = scenario
		}
	}
	return JudgeInit{SystemGuidance: s.Guidance, Context: ctx}
}

func (d *PathScored) InitState(_ *bank.Schema, _ *bank.Item) json.RawMessage {
	return mustJSON(pathState{})
}

func (d *PathScored) MigrateState(stored json.RawMessage) json.RawMessage {
	var st pathState
	if len(stored) > 0 {
		_ = json.Unmarshal(stored, &st)
	}
	if st.TotalClarifications < 0 {
		st.TotalClarifications = 0
	}
	return mustJSON(st)
}

func (d *PathScored) ParseJudgeOutput(raw json.RawMessage, s *bank.Schema, _ *bank.Item) (any, error) {
	var j seqJudge
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("%s judge output: %w", d.ID(), err)
	}
	j.AnswerType = aliasAnswerType(s, j.AnswerType)
	if !seqAnswerTypes[j.AnswerType] {
		return nil, fmt.Errorf("%s: answer type %q is not in the closed enum", d.ID(), j.AnswerType)
	}
	return j, nil
}

func (d *PathScored) ApplyTurn(in TurnInput) (*Decision, error) {
	var cfg pathScoring
	if err := decodeConfig(in.Scoring, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", d.ID(), err)
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("%s: scoring config declares no paths", d.ID())
	}

	judge, _ := in.Judge.(seqJudge)

	var st pathState
	_ = json.Unmarshal(in.State, &st)

	// Clarifications never enter the recorded sequence.
	if clarifyTypes[judge.AnswerType] {
		dec := d.clarify(in, &st, cfg, judge)
		dec.Telemetry = d.telemetry(&st, "")
		dec.State = mustJSON(st)
		return dec, nil
	}

	st.Sequence = append(st.Sequence, judge.AnswerType)

	if path, ok := matchExact(cfg.Paths, st.Sequence); ok {
		score := path.Score
		dec := &Decision{
			Credit:    1,
			Signal:    SignalProductive,
			Completed: true,
			Score:     &score,
			Badges:    []string{"path: " + path.Name},
			Telemetry: d.telemetry(&st, path.Name),
			State:     mustJSON(st),
		}
		return dec, nil
	}

	onTrack := matchesAnyPrefix(cfg.Paths, st.Sequence)

	if len(st.Sequence) >= cfg.maxTurns() || !onTrack {
		if len(st.Sequence) >= cfg.maxTurns() {
			// Sequence exhausted the turn bound with no pattern match:
			// force the terminal never-completed path.
			score := cfg.NeverScore
			return &Decision{
				Credit:    0,
				Signal:    SignalUnproductive,
				Completed: true,
				Score:     &score,
				Telemetry: d.telemetry(&st, "never"),
				State:     mustJSON(st),
			}, nil
		}
		// Off every path but turns remain: redirect.
		return &Decision{
			Credit:    0,
			Signal:    SignalUnproductive,
			Probe:     d.pickProbe(in, &st, CatRedirect, judge.RecommendedProbeID),
			Telemetry: d.telemetry(&st, ""),
			State:     mustJSON(st),
		}, nil
	}

	return &Decision{
		Credit:    0,
		Signal:    SignalProductive,
		Badges:    []string{"on track"},
		Probe:     d.pickProbe(in, &st, CatGoodCont, judge.RecommendedProbeID),
		Telemetry: d.telemetry(&st, ""),
		State:     mustJSON(st),
	}, nil
}

func (d *PathScored) clarify(in TurnInput, st *pathState, cfg pathScoring, judge seqJudge) *Decision {
	if st.TotalClarifications >= cfg.maxClarifications() {
		return &Decision{
			Credit: 0,
			Signal: SignalUnproductive,
			Probe:  d.pickProbe(in, st, CatRedirect, ""),
		}
	}
	st.TotalClarifications++
	return &Decision{
		Credit: 0,
		Signal: SignalNeutral,
		Probe:  d.pickProbe(in, st, judge.AnswerType, judge.RecommendedProbeID),
	}
}

func (d *PathScored) telemetry(st *pathState, path string) map[string]any {
	t := map[string]any{
		"sequence":       append([]string(nil), st.Sequence...),
		"clarifications": st.TotalClarifications,
	}
	if path != "" {
		t["path"] = path
	}
	return t
}

func (d *PathScored) pickProbe(in TurnInput, st *pathState, category, recommended string) *Probe {
	library := bank.EffectiveProbes(in.Schema, in.Item)
	p := selectLibraryProbe(library, category, recommended, st.UsedProbes)
	if p == nil {
		return nil
	}
	st.UsedProbes = append(st.UsedProbes, p.ID)
	return p
}

// matchExact returns the first declared path whose sequence equals seq.
func matchExact(paths []pathPattern, seq []string) (pathPattern, bool) {
	for _, p := range paths {
		if equalSeq(p.Sequence, seq) {
			return p, true
		}
	}
	return pathPattern{}, false
}

// matchesAnyPrefix reports whether seq is a strict prefix of any path.
func matchesAnyPrefix(paths []pathPattern, seq []string) bool {
	for _, p := range paths {
		if len(seq) < len(p.Sequence) && equalSeq(p.Sequence[:len(seq)], seq) {
			return true
		}
	}
	return false
}

func equalSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
