// Package engine contains the turn kernel: the state machine that takes one
// user turn plus one judge verdict and decides probe/continue/complete,
// updates the ability estimate, and maintains the session envelope and
// transcript. The kernel itself performs no I/O; the judge call and
// persistence happen at the boundary through the collaborator interfaces.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abhisek/inquiz/internal/ability"
	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/contract"
	"github.com/abhisek/inquiz/internal/driver"
	"github.com/abhisek/inquiz/internal/merge"
	"github.com/abhisek/inquiz/internal/probegate"
)

// Persister saves session snapshots. Called once per turn after all
// in-memory mutation; failures are best-effort durability, never a rollback
// of the decision already made.
type Persister interface {
	Persist(ctx context.Context, s *Session) error
}

// Primer performs the one-time judge setup round-trip. A false return or an
// error leaves priming unmarked so a later turn retries.
type Primer interface {
	Prime(ctx context.Context, req PrimeRequest) (bool, error)
}

// PrimeRequest carries the priming payload to the transport.
type PrimeRequest struct {
	SessionID       string
	DriverID        string
	GuidanceVersion string
	Schema          *bank.Schema
	Item            *bank.Item
	Payload         driver.JudgeInit
}

// kernelPolicy is the kernel-owned slice of the effective policy object.
type kernelPolicy struct {
	// MaxConsecutiveMisses completes the item after this many unproductive
	// turns in a row.
	MaxConsecutiveMisses int `json:"maxConsecutiveMisses"`

	// MaxTotalMisses completes the item after this many unproductive turns
	// overall.
	MaxTotalMisses int `json:"maxTotalMisses"`

	// TimeBudgetSec completes the item once elapsed time passes the
	// budget. Zero means no time budget.
	TimeBudgetSec int `json:"timeBudgetSec"`
}

func (p kernelPolicy) withDefaults() kernelPolicy {
	if p.MaxConsecutiveMisses <= 0 {
		p.MaxConsecutiveMisses = 3
	}
	if p.MaxTotalMisses <= 0 {
		p.MaxTotalMisses = 5
	}
	return p
}

// TurnRequest is one incoming user turn with its judge verdict. JudgeOutput
// is the raw judge JSON; nil or garbage is handled as a contract violation,
// never as a kernel failure.
type TurnRequest struct {
	ItemID      string
	UserText    string
	JudgeOutput json.RawMessage
}

// TurnResult is the kernel's response for one turn.
type TurnResult struct {
	Credit float64

	// Score is the terminal score when Completed, else the turn credit.
	Score float64

	Badges []string

	// Probe is the sanitized follow-up, nil when none survived the gate.
	Probe        *driver.Probe
	ProbeBlocked bool
	ProbeReason  string

	Completed bool
	Ability   ability.Vector

	// Telemetry
	Turns               int
	Attempts            int
	ElapsedSec          int
	TimeExceeded        bool
	ConsecutiveExceeded bool
	TotalExceeded       bool
	ErrorCode           string
}

// Kernel orchestrates turns. All fields are set at construction; the kernel
// holds no per-session state and is safe to share across sessions.
type Kernel struct {
	bank      bank.Bank
	registry  *driver.Registry
	contracts *contract.Validator
	persister Persister
	primer    Primer
	now       func() time.Time
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithPersister sets the snapshot persistence hook.
func WithPersister(p Persister) Option {
	return func(k *Kernel) { k.persister = p }
}

// WithPrimer sets the priming transport. Without one, priming is
// optimistic: marked complete without a round-trip.
func WithPrimer(p Primer) Option {
	return func(k *Kernel) { k.primer = p }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) { k.now = now }
}

// New builds a Kernel over a bank and driver registry.
func New(b bank.Bank, reg *driver.Registry, opts ...Option) *Kernel {
	k := &Kernel{
		bank:      b,
		registry:  reg,
		contracts: contract.NewValidator(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// HandleTurn runs the per-turn state machine. Errors are authoring or
// wiring failures (unknown item, broken scoring config); judge misbehavior
// never surfaces as an error.
func (k *Kernel) HandleTurn(ctx context.Context, s *Session, req TurnRequest) (*TurnResult, error) {
	item, err := k.bank.ItemByID(req.ItemID)
	if err != nil {
		return nil, err
	}
	schema, err := k.bank.SchemaByID(item.SchemaID)
	if err != nil {
		return nil, err
	}
	drv, err := k.registry.Resolve(schema.Engine.DriverID, schema.Engine.Kind)
	if err != nil {
		return nil, err
	}

	k.ensurePrimed(ctx, s, drv, schema, item)

	policyMap := merge.Layers(merge.Replace, schema.Policy, item.Policy)
	scoringMap := merge.Layers(merge.Replace, schema.Scoring, item.Scoring)

	var pol kernelPolicy
	raw, _ := json.Marshal(policyMap)
	_ = json.Unmarshal(raw, &pol)
	pol = pol.withDefaults()

	unit := k.ensureUnit(s, schema, item, drv)
	unit.Turns++
	unit.Attempts++

	dec, errorCode, err := k.decide(s, schema, item, drv, unit, policyMap, scoringMap, req)
	if err != nil {
		return nil, err
	}

	// Budget bookkeeping from the decision's signal.
	switch dec.Signal {
	case driver.SignalUnproductive:
		unit.ConsecutiveMisses++
		unit.TotalMisses++
	case driver.SignalProductive:
		unit.ConsecutiveMisses = 0
	}

	if dec.State != nil {
		unit.Payload = dec.State
	}

	elapsed := int(k.now().Sub(unit.StartedAt) / time.Second)
	timeExceeded := pol.TimeBudgetSec > 0 && elapsed >= pol.TimeBudgetSec
	consecExceeded := unit.ConsecutiveMisses >= pol.MaxConsecutiveMisses
	totalExceeded := unit.TotalMisses >= pol.MaxTotalMisses

	completed := dec.Completed || timeExceeded || consecExceeded || totalExceeded

	res := &TurnResult{
		Credit:              dec.Credit,
		Score:               dec.Credit,
		Badges:              dec.Badges,
		Completed:           completed,
		Turns:               unit.Turns,
		Attempts:            unit.Attempts,
		ElapsedSec:          elapsed,
		TimeExceeded:        timeExceeded,
		ConsecutiveExceeded: consecExceeded,
		TotalExceeded:       totalExceeded,
		ErrorCode:           errorCode,
	}

	abilityBefore := ability.Clone(s.Ability)

	// Ability moves only on the terminal turn.
	if completed && !unit.Completed {
		final := finalScore(dec, scoringMap)
		res.Score = final

		var params ability.Params
		rawScoring, _ := json.Marshal(scoringMap)
		_ = json.Unmarshal(rawScoring, &params)
		s.Ability = ability.Update(s.Ability, unit.AbilityKey, final, params)
	}
	if completed {
		unit.Completed = true
	}
	res.Ability = s.Ability

	// Probe sanitization. Completed items show no further probe.
	if !completed {
		gate := probegate.Enforce(schema.ProbePolicy, dec.Probe)
		res.Probe = gate.Probe
		res.ProbeBlocked = gate.Blocked
		res.ProbeReason = gate.Reason
	}

	k.recordTranscript(s, item, req.UserText, dec, res, abilityBefore)

	if k.persister != nil {
		if err := k.persister.Persist(ctx, s); err != nil {
			// Best-effort durability: the decision stands regardless.
			fmt.Fprintf(os.Stderr, "warning: persist session %s: %v\n", s.ID, err)
		}
	}

	return res, nil
}

// ensurePrimed runs the one-time judge setup for (driver, guidanceVersion)
// once per session. With no transport configured priming is optimistic.
func (k *Kernel) ensurePrimed(ctx context.Context, s *Session, drv driver.Driver, schema *bank.Schema, item *bank.Item) {
	key := drv.ID() + "@" + schema.GuidanceVersion
	if s.Primed[key] {
		return
	}
	if k.primer == nil {
		s.Primed[key] = true
		return
	}
	ok, err := k.primer.Prime(ctx, PrimeRequest{
		SessionID:       s.ID,
		DriverID:        drv.ID(),
		GuidanceVersion: schema.GuidanceVersion,
		Schema:          schema,
		Item:            item,
		Payload:         drv.BuildJudgeInit(schema, item),
	})
	if err != nil || !ok {
		// Leave unmarked; a later turn retries.
		return
	}
	s.Primed[key] = true
}

// ensureUnit returns the live envelope for the item, creating a fresh one
// when none exists, the prior one belongs to a different driver, or the
// prior attempt already completed.
func (k *Kernel) ensureUnit(s *Session, schema *bank.Schema, item *bank.Item, drv driver.Driver) *Unit {
	unit := s.Units[item.ID]
	if unit != nil && unit.DriverID == drv.ID() && !unit.Completed {
		// Reconstruct tolerantly: the payload may predate the current
		// driver version.
		unit.Payload = drv.MigrateState(unit.Payload)
		return unit
	}

	unit = &Unit{
		ItemID:          item.ID,
		SchemaID:        schema.ID,
		DriverID:        drv.ID(),
		DriverVersion:   drv.Version(),
		ContractVersion: schema.GuidanceVersion,
		AbilityKey:      schema.AbilityKey,
		StartedAt:       k.now(),
		Payload:         drv.InitState(schema, item),
	}
	s.Units[item.ID] = unit
	return unit
}

// decide validates the judge output and runs the driver, or synthesizes the
// driver-independent contract-invalid decision.
func (k *Kernel) decide(s *Session, schema *bank.Schema, item *bank.Item, drv driver.Driver, unit *Unit, policyMap, scoringMap map[string]any, req TurnRequest) (*driver.Decision, string, error) {
	output := req.JudgeOutput
	if output == nil {
		output = json.RawMessage("null")
	}
	if err := k.contracts.ValidateJudgeOutput(schema.ID, schema.Contract, output); err != nil {
		if contract.IsViolation(err) {
			return k.contractInvalidDecision(schema, item, unit), "contract_invalid", nil
		}
		// Uncompilable contract: an authoring error, not a judge failure.
		return nil, "", err
	}

	judge, err := drv.ParseJudgeOutput(output, schema, item)
	if err != nil {
		// Contract-valid but outside the driver's closed enum; same
		// recovery as a contract violation.
		return k.contractInvalidDecision(schema, item, unit), "judge_parse_failed", nil
	}

	dec, err := drv.ApplyTurn(driver.TurnInput{
		Schema:   schema,
		Item:     item,
		State:    unit.Payload,
		Judge:    judge,
		UserText: req.UserText,
		Policy:   policyMap,
		Scoring:  scoringMap,
		Rng:      turnRNG(s.ID, drv.ID(), item.ID, unit.Turns),
	})
	if err != nil {
		// Driver-internal invariant violations (e.g. scoring config
		// missing its target) are authoring errors: fail loudly.
		return nil, "", fmt.Errorf("driver %s on item %s: %w", drv.ID(), item.ID, err)
	}
	return dec, "", nil
}

// contractInvalidDecision is the standard recovery: zero credit,
// unproductive, and a format-error reformulation request. The user sees a
// generic probe, never a structured error.
func (k *Kernel) contractInvalidDecision(schema *bank.Schema, item *bank.Item, unit *Unit) *driver.Decision {
	probe := formatErrorProbe(schema, item)
	return &driver.Decision{
		Credit: 0,
		Signal: driver.SignalUnproductive,
		Probe:  probe,
		State:  unit.Payload,
	}
}

// formatErrorProbe prefers the schema's bad_format library entry, falling
// back to a canned reformulation request with a fixed id (library-style, so
// the gate never blocks it).
func formatErrorProbe(schema *bank.Schema, item *bank.Item) *driver.Probe {
	library := bank.ProbesByCategory(bank.EffectiveProbes(schema, item), "bad_format")
	if len(library) > 0 {
		p := library[0]
		return &driver.Probe{ID: p.ID, Text: p.Text, Category: p.Category}
	}
	return &driver.Probe{
		ID:       "format-error",
		Text:     "Sorry, I couldn't quite follow that. Could you put it another way?",
		Category: "bad_format",
	}
}

// finalScore applies the terminal scoring precedence: per-distinct override
// map, then the count-based formula, then the driver's score payload, then
// the raw credit, then zero.
func finalScore(dec *driver.Decision, scoring map[string]any) float64 {
	distinct, hasDistinct := telemetryInt(dec.Telemetry, "distinct")
	target, hasTarget := telemetryInt(dec.Telemetry, "target")

	if hasDistinct {
		if byDistinct, ok := scoring["scoreByDistinct"].(map[string]any); ok {
			if v, ok := byDistinct[strconv.Itoa(distinct)]; ok {
				if f, ok := toFloat(v); ok {
					return f
				}
			}
		}
	}

	if hasDistinct && hasTarget && target > 0 {
		if distinct >= target {
			return 1
		}
		return -float64(target-distinct) / float64(target)
	}

	if dec.Score != nil {
		return *dec.Score
	}
	if dec.Credit != 0 {
		return dec.Credit
	}
	return 0
}

// recordTranscript appends or patches the transcript per turn: a new entry
// on the item's first turn, otherwise the pending probe's answer is filled
// and any new probe appends a pending exchange.
func (k *Kernel) recordTranscript(s *Session, item *bank.Item, userText string, dec *driver.Decision, res *TurnResult, abilityBefore ability.Vector) {
	label := turnLabel(dec)

	entry := s.openEntry(item.ID)
	if entry == nil {
		entry = &TranscriptEntry{
			ItemID:        item.ID,
			Question:      item.Stem,
			Answer:        userText,
			Label:         label,
			AbilityBefore: abilityBefore,
		}
		s.Transcript = append(s.Transcript, entry)
	} else if pending := entry.pendingExchange(); pending != nil {
		pending.Answer = userText
		pending.Label = label
	}

	// Every continuing turn appends a pending exchange, even when the gate
	// blocked the probe and only the re-asked question goes out. Otherwise
	// the user's next answer for this item has no slot to land in.
	if !res.Completed {
		ex := Exchange{}
		if res.Probe != nil {
			ex.ProbeID = res.Probe.ID
			ex.ProbeText = res.Probe.Text
			ex.Category = res.Probe.Category
		}
		entry.Exchanges = append(entry.Exchanges, ex)
	}

	if res.Completed {
		entry.Closed = true
	}
}

func turnLabel(dec *driver.Decision) string {
	if dec.Telemetry != nil {
		if at, ok := dec.Telemetry["answer_type"].(string); ok {
			return at
		}
	}
	return string(dec.Signal)
}

func telemetryInt(t map[string]any, key string) (int, bool) {
	if t == nil {
		return 0, false
	}
	switch v := t[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
