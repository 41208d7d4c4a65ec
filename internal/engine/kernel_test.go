package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/driver"
)

func testBank(t *testing.T) *bank.MemoryBank {
	t.Helper()
	b := bank.NewMemoryBank()
	if err := b.AddSchema(&bank.Schema{
		ID:              "water-cycle",
		GuidanceVersion: "v1",
		Guidance:        "Classify each explanation of the water cycle.",
		Contract:        json.RawMessage(`true`),
		Engine:          bank.Engine{DriverID: driver.DriverIDOpen},
		AbilityKey:      "explanation",
		Probes: []bank.ProbeDef{
			{ID: "wc-more", Text: "What else keeps the cycle going?", Category: "good_continue"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddItem(&bank.Item{
		ID:       "wc-1",
		SchemaID: "water-cycle",
		Stem:     "Why does it rain?",
		Content: map[string]any{
			"themes": []any{"evaporation", "condensation", "precipitation"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	return b
}

func testKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	all := append([]Option{WithClock(func() time.Time { return base })}, opts...)
	return New(testBank(t), driver.DefaultRegistry(), all...)
}

func turn(t *testing.T, k *Kernel, s *Session, rawJudge string) *TurnResult {
	t.Helper()
	res, err := k.HandleTurn(context.Background(), s, TurnRequest{
		ItemID:      "wc-1",
		UserText:    "because water evaporates",
		JudgeOutput: json.RawMessage(rawJudge),
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestHandleTurn_DistinctCountCompletion(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	first := turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	if first.Completed {
		t.Fatal("one distinct theme should not complete a target of two")
	}
	if first.Credit != 1 {
		t.Errorf("credit = %v, want 1", first.Credit)
	}
	if len(s.Ability) != 0 {
		t.Errorf("ability moved on a non-terminal turn: %v", s.Ability)
	}

	second := turn(t, k, s, `{"answer_type":"good","theme":"condensation"}`)
	if !second.Completed {
		t.Fatal("two distinct themes should complete")
	}
	if second.Score != 1 {
		t.Errorf("final score = %v, want 1", second.Score)
	}
	est, ok := s.Ability["explanation"]
	if !ok {
		t.Fatal("terminal turn should update the ability key")
	}
	if est.Mean != 0.25 {
		t.Errorf("mean = %v, want 0.25 (default step * score 1)", est.Mean)
	}
	if est.Variance != 0.9 {
		t.Errorf("variance = %v, want 0.9", est.Variance)
	}
	if second.Probe != nil {
		t.Errorf("completed turn carried a probe: %+v", second.Probe)
	}
}

func TestHandleTurn_AbilityMovesOnlyOnce(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	turn(t, k, s, `{"answer_type":"good","theme":"condensation"}`)
	before := s.Ability["explanation"]

	// A fresh attempt at the same item starts a new envelope; only its own
	// terminal turn may move the ability again.
	mid := turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	if mid.Completed {
		t.Fatal("new attempt should start from an empty envelope")
	}
	if s.Ability["explanation"] != before {
		t.Errorf("ability moved mid-attempt: %v -> %v", before, s.Ability["explanation"])
	}
}

func TestHandleTurn_ContractInvalidRecovery(t *testing.T) {
	b := bank.NewMemoryBank()
	if err := b.AddSchema(&bank.Schema{
		ID:              "strict",
		GuidanceVersion: "v1",
		Contract:        json.RawMessage(`{"type":"object","properties":{"answer_type":{"type":"string"}},"required":["answer_type"]}`),
		Engine:          bank.Engine{DriverID: driver.DriverIDOpen},
		AbilityKey:      "explanation",
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddItem(&bank.Item{ID: "st-1", SchemaID: "strict", Stem: "Explain."}); err != nil {
		t.Fatal(err)
	}
	k := New(b, driver.DefaultRegistry())
	s := NewSession("s1", time.Now())

	res, err := k.HandleTurn(context.Background(), s, TurnRequest{
		ItemID:      "st-1",
		UserText:    "hmm",
		JudgeOutput: json.RawMessage(`{"answer_type":42}`),
	})
	if err != nil {
		t.Fatalf("judge misbehavior must not surface as an error: %v", err)
	}
	if res.ErrorCode != "contract_invalid" {
		t.Errorf("error code = %q, want contract_invalid", res.ErrorCode)
	}
	if res.Credit != 0 || res.Completed {
		t.Errorf("recovery turn: credit=%v completed=%v", res.Credit, res.Completed)
	}
	if res.Probe == nil || res.Probe.Category != "bad_format" {
		t.Errorf("recovery probe = %+v, want a bad_format reformulation", res.Probe)
	}
	if len(s.Ability) != 0 {
		t.Errorf("ability moved on a recovery turn: %v", s.Ability)
	}

	// nil judge output takes the same path.
	res, err = k.HandleTurn(context.Background(), s, TurnRequest{ItemID: "st-1", UserText: "hmm"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ErrorCode != "contract_invalid" {
		t.Errorf("nil output error code = %q", res.ErrorCode)
	}
}

func TestHandleTurn_OutOfEnumAnswerType(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	res := turn(t, k, s, `{"answer_type":"banana"}`)
	if res.ErrorCode != "judge_parse_failed" {
		t.Errorf("error code = %q, want judge_parse_failed", res.ErrorCode)
	}
	if res.Completed || res.Credit != 0 {
		t.Errorf("parse recovery: %+v", res)
	}
}

func TestHandleTurn_ConsecutiveMissCap(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	var res *TurnResult
	for range 3 {
		res = turn(t, k, s, `{"answer_type":"not_relevant"}`)
	}
	if !res.Completed || !res.ConsecutiveExceeded {
		t.Fatalf("third unproductive turn should hit the cap: %+v", res)
	}
	// Zero distinct of target two: count formula gives -1.
	if res.Score != -1 {
		t.Errorf("final score = %v, want -1", res.Score)
	}
	if s.Ability["explanation"].Mean != -0.25 {
		t.Errorf("mean = %v, want -0.25", s.Ability["explanation"].Mean)
	}
}

func TestHandleTurn_ProductiveResetsConsecutive(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"not_relevant"}`)
	turn(t, k, s, `{"answer_type":"not_relevant"}`)
	turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	res := turn(t, k, s, `{"answer_type":"not_relevant"}`)
	if res.Completed {
		t.Fatalf("a productive turn should have reset the consecutive count: %+v", res)
	}
	if res.TotalExceeded {
		t.Errorf("total misses is 3 of 5, yet TotalExceeded is set")
	}
}

func TestHandleTurn_TimeBudget(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	b := testBank(t)
	schema, _ := b.SchemaByID("water-cycle")
	schema.Policy = map[string]any{"timeBudgetSec": 60}

	k := New(b, driver.DefaultRegistry(), WithClock(func() time.Time { return now }))
	s := NewSession("s1", base)

	res := turn(t, k, s, `{"answer_type":"not_clear"}`)
	if res.Completed {
		t.Fatal("first turn within the budget should not complete")
	}

	now = base.Add(2 * time.Minute)
	res = turn(t, k, s, `{"answer_type":"not_clear"}`)
	if !res.Completed || !res.TimeExceeded {
		t.Fatalf("turn past the time budget should complete: %+v", res)
	}
}

func TestHandleTurn_DeterministicReplay(t *testing.T) {
	turns := []string{
		`{"answer_type":"not_clear"}`,
		`{"answer_type":"good","theme":"evaporation"}`,
		`{"answer_type":"not_specific"}`,
		`{"answer_type":"good","theme":"condensation"}`,
	}

	run := func() []byte {
		k := testKernel(t)
		s := NewSession("replay", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		var results []*TurnResult
		for _, j := range turns {
			results = append(results, turn(t, k, s, j))
		}
		raw, err := json.Marshal(struct {
			Results []*TurnResult
			Session *Session
		}{results, s})
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Errorf("replaying identical turns diverged:\n%s\n%s", first, second)
	}
}

type capturePersister struct {
	calls int
	err   error
	last  []byte
}

func (p *capturePersister) Persist(_ context.Context, s *Session) error {
	p.calls++
	p.last, _ = json.Marshal(s)
	return p.err
}

func TestHandleTurn_PersistsEveryTurn(t *testing.T) {
	p := &capturePersister{}
	k := testKernel(t, WithPersister(p))
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	turn(t, k, s, `{"answer_type":"good","theme":"condensation"}`)
	if p.calls != 2 {
		t.Errorf("persist calls = %d, want 2", p.calls)
	}
}

func TestHandleTurn_PersistFailureDoesNotFailTurn(t *testing.T) {
	p := &capturePersister{err: errors.New("disk full")}
	k := testKernel(t, WithPersister(p))
	s := NewSession("s1", time.Now())

	res := turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	if res.Credit != 1 {
		t.Errorf("decision should stand despite persist failure: %+v", res)
	}
}

type scriptedPrimer struct {
	calls   int
	replies []bool
	err     error
}

func (p *scriptedPrimer) Prime(_ context.Context, _ PrimeRequest) (bool, error) {
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	ok := p.replies[min(p.calls, len(p.replies))-1]
	return ok, nil
}

func TestHandleTurn_PrimingRetriesUntilAcknowledged(t *testing.T) {
	pr := &scriptedPrimer{replies: []bool{false, true}}
	k := testKernel(t, WithPrimer(pr))
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"not_clear"}`)
	if s.Primed["category-open@v1"] {
		t.Fatal("unacknowledged priming must stay unmarked")
	}

	turn(t, k, s, `{"answer_type":"not_clear"}`)
	if !s.Primed["category-open@v1"] {
		t.Fatal("acknowledged priming should be marked")
	}

	turn(t, k, s, `{"answer_type":"not_relevant"}`)
	if pr.calls != 2 {
		t.Errorf("primer calls = %d, want 2 (no re-prime once marked)", pr.calls)
	}
}

func TestHandleTurn_Transcript(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	if len(s.Transcript) != 1 {
		t.Fatalf("transcript entries = %d, want 1", len(s.Transcript))
	}
	entry := s.Transcript[0]
	if entry.Question != "Why does it rain?" || entry.Answer != "because water evaporates" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Label != "good" {
		t.Errorf("label = %q, want the answer type", entry.Label)
	}
	if len(entry.Exchanges) != 1 || entry.Exchanges[0].ProbeID != "wc-more" {
		t.Fatalf("exchanges = %+v, want the pending library probe", entry.Exchanges)
	}
	if entry.Exchanges[0].Answer != "" {
		t.Errorf("pending exchange already has an answer")
	}

	turn(t, k, s, `{"answer_type":"good","theme":"condensation"}`)
	if len(s.Transcript) != 1 {
		t.Fatalf("completing the item should not open a new entry")
	}
	if entry.Exchanges[0].Answer != "because water evaporates" {
		t.Errorf("probe answer not filled: %+v", entry.Exchanges[0])
	}
	if !entry.Closed {
		t.Error("completed item should close its entry")
	}
}

func TestHandleTurn_TranscriptSurvivesBlockedProbe(t *testing.T) {
	// No library probes and generated probes disabled: every follow-up is
	// blocked by the gate and the turn goes out with the bare question.
	b := bank.NewMemoryBank()
	if err := b.AddSchema(&bank.Schema{
		ID:              "estimate",
		GuidanceVersion: "v1",
		Contract:        json.RawMessage(`true`),
		Engine:          bank.Engine{DriverID: driver.DriverIDNumeric},
		AbilityKey:      "estimation",
		Scoring:         map[string]any{"target": 100.0},
		ProbePolicy:     bank.ProbePolicy{DisableGenerated: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddItem(&bank.Item{ID: "est-1", SchemaID: "estimate", Stem: "How many?"}); err != nil {
		t.Fatal(err)
	}
	k := New(b, driver.DefaultRegistry())
	s := NewSession("s1", time.Now())

	res, err := k.HandleTurn(context.Background(), s, TurnRequest{
		ItemID:      "est-1",
		UserText:    "maybe 10",
		JudgeOutput: json.RawMessage(`{"value":10}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed {
		t.Fatal("a miss on the first turn should not complete")
	}
	if res.Probe != nil || !res.ProbeBlocked {
		t.Fatalf("expected a blocked probe, got %+v", res)
	}

	entry := s.Transcript[0]
	if len(entry.Exchanges) != 1 {
		t.Fatalf("continuing turn should leave a pending exchange, got %+v", entry.Exchanges)
	}
	if entry.Exchanges[0].ProbeID != "" || entry.Exchanges[0].ProbeText != "" {
		t.Errorf("blocked probe leaked into the transcript: %+v", entry.Exchanges[0])
	}

	res, err = k.HandleTurn(context.Background(), s, TurnRequest{
		ItemID:      "est-1",
		UserText:    "call it 100",
		JudgeOutput: json.RawMessage(`{"value":100}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed {
		t.Fatalf("exact value should complete: %+v", res)
	}
	if entry.Exchanges[0].Answer != "call it 100" {
		t.Errorf("second answer lost from the transcript: %+v", entry.Exchanges[0])
	}
	if !entry.Closed {
		t.Error("completed item should close its entry")
	}
}

func TestHandleTurn_UnknownItem(t *testing.T) {
	k := testKernel(t)
	s := NewSession("s1", time.Now())
	_, err := k.HandleTurn(context.Background(), s, TurnRequest{ItemID: "nope"})
	if err == nil {
		t.Error("unknown item should be an error")
	}
}

func TestHandleTurn_DriverAuthoringErrorPropagates(t *testing.T) {
	b := bank.NewMemoryBank()
	if err := b.AddSchema(&bank.Schema{
		ID:              "ordered",
		GuidanceVersion: "v1",
		Contract:        json.RawMessage(`true`),
		Engine:          bank.Engine{DriverID: driver.DriverIDSequential},
		AbilityKey:      "explanation",
	}); err != nil {
		t.Fatal(err)
	}
	// No expectedSequence anywhere: the driver must refuse the turn.
	if err := b.AddItem(&bank.Item{ID: "or-1", SchemaID: "ordered", Stem: "Explain."}); err != nil {
		t.Fatal(err)
	}
	k := New(b, driver.DefaultRegistry())
	s := NewSession("s1", time.Now())

	_, err := k.HandleTurn(context.Background(), s, TurnRequest{
		ItemID:      "or-1",
		JudgeOutput: json.RawMessage(`{"answer_type":"good"}`),
	})
	if err == nil {
		t.Error("missing sequence config should surface as an error")
	}
}

func TestHandleTurn_ScoreByDistinctOverride(t *testing.T) {
	b := testBank(t)
	schema, _ := b.SchemaByID("water-cycle")
	schema.Scoring = map[string]any{
		"scoreByDistinct": map[string]any{"0": -0.5, "1": 0.2, "2": 1.0},
	}
	k := New(b, driver.DefaultRegistry())
	s := NewSession("s1", time.Now())

	turn(t, k, s, `{"answer_type":"good","theme":"evaporation"}`)
	for range 3 {
		turn(t, k, s, `{"answer_type":"not_relevant"}`)
	}
	// Capped out with one distinct theme: the override table wins over the
	// count formula.
	if got := s.Ability["explanation"].Mean; got != 0.25*0.2 {
		t.Errorf("mean = %v, want %v", got, 0.25*0.2)
	}
}
