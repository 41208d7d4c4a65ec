package driver

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/abhisek/inquiz/internal/bank"
)

func seqSchema() *bank.Schema {
	return &bank.Schema{
		ID:              "alt-1",
		GuidanceVersion: "v2",
		Guidance:        "Classify the learner's explanation.",
		Contract:        json.RawMessage(`true`),
		Engine:          bank.Engine{Kind: KindSequence},
		AbilityKey:      "explanation",
		Probes: []bank.ProbeDef{
			{ID: "nc-1", Text: "Could you say that more precisely?", Category: AnswerNotClear},
			{ID: "nc-2", Text: "I'm not sure I follow. One more try?", Category: AnswerNotClear},
			{ID: "gc-1", Text: "Good. What's another explanation?", Category: CatGoodCont},
			{ID: "rd-1", Text: "Let's move on.", Category: CatRedirect},
		},
	}
}

func seqItem() *bank.Item {
	return &bank.Item{
		ID:       "i-alt",
		SchemaID: "alt-1",
		Stem:     "Why might the lake level have dropped?",
		Content: map[string]any{
			"themes": []any{
				map[string]any{"id": "evaporation"},
				map[string]any{"id": "irrigation"},
				map[string]any{"id": "drought"},
			},
		},
	}
}

func openTurn(t *testing.T, d *Sequence, state json.RawMessage, rawJudge string, policy map[string]any) *Decision {
	t.Helper()
	judge, err := d.ParseJudgeOutput(json.RawMessage(rawJudge), seqSchema(), seqItem())
	if err != nil {
		t.Fatalf("ParseJudgeOutput(%s): %v", rawJudge, err)
	}
	dec, err := d.ApplyTurn(TurnInput{
		Schema: seqSchema(),
		Item:   seqItem(),
		State:  state,
		Judge:  judge,
		Policy: policy,
		Rng:    testRng(),
	})
	if err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}
	return dec
}

func TestOpen_ClarificationBudget(t *testing.T) {
	d := NewOpen()
	policy := map[string]any{
		"targetDistinct":         2,
		"maxTotalClarifications": 2,
		"maxConsecutiveSame":     1,
	}
	state := d.InitState(seqSchema(), seqItem())

	// Three consecutive not_clear answers: probe, probe, terminal negative.
	first := openTurn(t, d, state, `{"answer_type":"not_clear"}`, policy)
	if first.Signal != SignalNeutral || first.Probe == nil || first.Probe.Category != AnswerNotClear {
		t.Fatalf("turn 1: signal %v probe %+v", first.Signal, first.Probe)
	}

	second := openTurn(t, d, first.State, `{"answer_type":"not_clear"}`, policy)
	if second.Signal != SignalNeutral || second.Probe == nil || second.Probe.Category != AnswerNotClear {
		t.Fatalf("turn 2: signal %v probe %+v", second.Signal, second.Probe)
	}
	if second.Probe.ID == first.Probe.ID {
		t.Error("second clarification reused the first probe while unused entries remain")
	}

	third := openTurn(t, d, second.State, `{"answer_type":"not_clear"}`, policy)
	if third.Signal != SignalUnproductive {
		t.Fatalf("turn 3: signal %v, want unproductive", third.Signal)
	}
	if third.Probe == nil || third.Probe.Category != CatRedirect {
		t.Errorf("turn 3 probe = %+v, want redirect category", third.Probe)
	}

	// Never a fourth clarification.
	fourth := openTurn(t, d, third.State, `{"answer_type":"not_clear"}`, policy)
	if fourth.Signal != SignalUnproductive {
		t.Errorf("turn 4: signal %v, want unproductive", fourth.Signal)
	}
}

func TestOpen_DistinctCountCompletion(t *testing.T) {
	d := NewOpen()
	policy := map[string]any{"targetDistinct": 2}
	state := d.InitState(seqSchema(), seqItem())

	first := openTurn(t, d, state, `{"answer_type":"good","theme":"evaporation"}`, policy)
	if first.Signal != SignalProductive || first.Credit != 1 {
		t.Fatalf("turn 1: signal %v credit %v", first.Signal, first.Credit)
	}
	if first.Completed {
		t.Fatal("turn 1: completed too early")
	}
	if first.Probe == nil {
		t.Fatal("turn 1: expected a follow-up probe")
	}
	if got := first.Telemetry["distinct"].(int); got != 1 {
		t.Errorf("turn 1 distinct = %v", got)
	}

	second := openTurn(t, d, first.State, `{"answer_type":"good","theme":"irrigation"}`, policy)
	if !second.Completed {
		t.Fatal("turn 2: second distinct theme should complete")
	}
	if second.Probe != nil {
		t.Errorf("turn 2: no probe expected on completion, got %+v", second.Probe)
	}
	if got := second.Telemetry["distinct"].(int); got != 2 {
		t.Errorf("turn 2 distinct = %v", got)
	}
}

func TestOpen_RepeatedThemeIsNeutral(t *testing.T) {
	d := NewOpen()
	policy := map[string]any{"targetDistinct": 2}
	state := d.InitState(seqSchema(), seqItem())

	first := openTurn(t, d, state, `{"answer_type":"good","theme":"evaporation"}`, policy)
	repeat := openTurn(t, d, first.State, `{"answer_type":"good","theme":"evaporation"}`, policy)
	if repeat.Signal != SignalNeutral || repeat.Credit != 0 {
		t.Errorf("repeat theme: signal %v credit %v", repeat.Signal, repeat.Credit)
	}
	if repeat.Completed {
		t.Error("repeat theme must not complete")
	}
}

func TestOpen_UnregisteredThemeDoesNotCount(t *testing.T) {
	d := NewOpen()
	dec := openTurn(t, d, d.InitState(nil, nil), `{"answer_type":"good","theme":"aliens"}`, nil)
	if dec.Signal == SignalProductive {
		t.Error("unregistered theme counted as productive")
	}
}

func TestOpen_NegativeCategories(t *testing.T) {
	d := NewOpen()
	for _, at := range []string{AnswerNotRelevant, AnswerNotPlausible, AnswerMultipleExpl} {
		dec := openTurn(t, d, d.InitState(nil, nil), `{"answer_type":"`+at+`"}`, nil)
		if dec.Signal != SignalUnproductive || dec.Credit != 0 {
			t.Errorf("%s: signal %v credit %v", at, dec.Signal, dec.Credit)
		}
	}
}

func TestSequence_AnswerTypeAliasing(t *testing.T) {
	d := NewOpen()
	s := seqSchema()
	s.AnswerTypeAliases = map[string]string{"unclear": AnswerNotClear}

	judge, err := d.ParseJudgeOutput(json.RawMessage(`{"answer_type":"unclear"}`), s, seqItem())
	if err != nil {
		t.Fatalf("aliased type rejected: %v", err)
	}
	if judge.(seqJudge).AnswerType != AnswerNotClear {
		t.Errorf("alias not applied: %+v", judge)
	}

	_, err = d.ParseJudgeOutput(json.RawMessage(`{"answer_type":"gibberish"}`), s, seqItem())
	if err == nil || !strings.Contains(err.Error(), "closed enum") {
		t.Errorf("out-of-enum type: %v, want closed enum error", err)
	}
}

func TestSequential_OrderedProgress(t *testing.T) {
	d := NewSequential()
	policy := map[string]any{
		"expectedSequence": []any{AnswerDirNegative, AnswerGood},
	}
	state := d.InitState(seqSchema(), seqItem())

	// Out of order: the second expected category first.
	early := openTurnWith(t, d, state, `{"answer_type":"good"}`, policy)
	if early.Signal != SignalNeutral {
		t.Errorf("out-of-order expected category: signal %v, want neutral", early.Signal)
	}

	first := openTurnWith(t, d, state, `{"answer_type":"directional_negative"}`, policy)
	if first.Signal != SignalProductive || first.Completed {
		t.Fatalf("turn 1: %+v", first)
	}

	second := openTurnWith(t, d, first.State, `{"answer_type":"good"}`, policy)
	if !second.Completed {
		t.Fatal("completing the expected sequence should complete the item")
	}
}

func TestSequential_MissingSequenceIsAuthoringError(t *testing.T) {
	d := NewSequential()
	judge, err := d.ParseJudgeOutput(json.RawMessage(`{"answer_type":"good"}`), seqSchema(), seqItem())
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.ApplyTurn(TurnInput{
		Schema: seqSchema(),
		Item:   &bank.Item{ID: "bare", SchemaID: "alt-1", Stem: "q"},
		State:  d.InitState(nil, nil),
		Judge:  judge,
		Rng:    testRng(),
	})
	if err == nil {
		t.Error("sequential driver without an expected sequence should error")
	}
}

func openTurnWith(t *testing.T, d *Sequence, state json.RawMessage, rawJudge string, policy map[string]any) *Decision {
	t.Helper()
	judge, err := d.ParseJudgeOutput(json.RawMessage(rawJudge), seqSchema(), seqItem())
	if err != nil {
		t.Fatal(err)
	}
	dec, err := d.ApplyTurn(TurnInput{
		Schema: seqSchema(),
		Item:   seqItem(),
		State:  state,
		Judge:  judge,
		Policy: policy,
		Rng:    testRng(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return dec
}
