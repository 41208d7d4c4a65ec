// Package driver defines the skill-driver contract and the four concrete
// drivers. A driver owns the domain-specific decision logic for one family
// of questions: it interprets validated judge output, decides whether to
// probe or complete, awards credit, and evolves its own opaque state.
//
// Drivers are pure: given the same inputs (including the seeded RNG) they
// produce the same Decision. All I/O and session bookkeeping lives in the
// turn kernel.
package driver

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/abhisek/inquiz/internal/bank"
)

// BudgetSignal classifies a turn for the kernel's failure-cap bookkeeping.
// It is distinct from the numeric credit.
type BudgetSignal string

const (
	// SignalProductive marks forward progress; resets the consecutive
	// failure streak.
	SignalProductive BudgetSignal = "productive"

	// SignalNeutral marks bookkeeping turns (clarifications); touches no
	// counter.
	SignalNeutral BudgetSignal = "neutral"

	// SignalUnproductive marks a failed turn; increments both the
	// consecutive streak and the total failure count.
	SignalUnproductive BudgetSignal = "unproductive"
)

// Probe is a follow-up question for the user. An empty ID marks a
// dynamically generated probe, which the probe gate screens; a non-empty ID
// marks a library probe whose text the schema author already vetted.
type Probe struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Generated reports whether the probe was synthesized rather than drawn
// from a library.
func (p *Probe) Generated() bool { return p.ID == "" }

// Decision is the ephemeral result of one turn. It is never persisted as a
// whole; the kernel folds it into session state.
type Decision struct {
	// Credit in 0..1 for this turn's answer.
	Credit float64

	Signal BudgetSignal

	// Probe to show the user, or nil to stay silent.
	Probe *Probe

	// Badges are short UI labels ("on track", "new angle").
	Badges []string

	// Completed is the driver's own completion verdict. The kernel may
	// also complete the item on budget exhaustion.
	Completed bool

	// Score is the driver's final-score payload, consulted when the item
	// completes. Nil means "no opinion".
	Score *float64

	// Telemetry carries driver diagnostics. Count-based drivers report
	// "distinct" and "target" here for terminal scoring.
	Telemetry map[string]any

	// State is the new driver-owned payload.
	State json.RawMessage
}

// JudgeInit is the one-time priming payload for the external judge.
type JudgeInit struct {
	SystemGuidance string
	Context        map[string]any
}

// TurnInput carries everything ApplyTurn may consult.
type TurnInput struct {
	Schema *bank.Schema
	Item   *bank.Item

	// State is the prior driver payload, already migrated.
	State json.RawMessage

	// Judge is the typed result of ParseJudgeOutput.
	Judge any

	// UserText is the learner's raw answer this turn.
	UserText string

	// Policy and Scoring are the effective (schema+item merged) configs.
	Policy  map[string]any
	Scoring map[string]any

	// Rng is seeded per (session, driver, item, turn); drivers must use it
	// for any randomized choice, never ambient randomness.
	Rng *rand.Rand
}

// Driver is the polymorphic skill-driver contract.
type Driver interface {
	// ID is the unique driver identifier (e.g. "numeric-estimation").
	ID() string

	// Kind groups drivers for default resolution (e.g. "sequence").
	Kind() string

	// Version tags the driver's decision logic for stored envelopes.
	Version() string

	// BuildJudgeInit produces the priming payload for this driver's
	// question family.
	BuildJudgeInit(s *bank.Schema, it *bank.Item) JudgeInit

	// InitState returns a fresh payload for a new item attempt.
	InitState(s *bank.Schema, it *bank.Item) json.RawMessage

	// MigrateState reconstructs a payload from a stored, possibly legacy
	// shape. It never fails: missing fields get defaults.
	MigrateState(stored json.RawMessage) json.RawMessage

	// ParseJudgeOutput maps schema-validated judge JSON into the driver's
	// typed shape, applying the schema's answer-type aliases. An aliased
	// answer type outside the driver's closed enum is an explicit error.
	ParseJudgeOutput(raw json.RawMessage, s *bank.Schema, it *bank.Item) (any, error)

	// ApplyTurn performs the core state transition.
	ApplyTurn(in TurnInput) (*Decision, error)
}

// decodeConfig round-trips a merged config map into a typed struct. Unknown
// keys are ignored; shape mismatches are authoring errors.
func decodeConfig(m map[string]any, out any) error {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// aliasAnswerType resolves a judge-emitted answer type through the schema's
// alias table.
func aliasAnswerType(s *bank.Schema, t string) string {
	if s == nil || s.AnswerTypeAliases == nil {
		return t
	}
	if mapped, ok := s.AnswerTypeAliases[t]; ok {
		return mapped
	}
	return t
}
