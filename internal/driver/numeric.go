package driver

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/abhisek/inquiz/internal/bank"
)

const (
	DriverIDNumeric = "numeric-estimation"
	KindNumeric     = "numeric"
)

// Numeric probe categories.
const (
	CatTooLow      = "too_low"
	CatTooHigh     = "too_high"
	CatCloseEnough = "close_enough"
	CatGoodCont    = "good_continue"
	CatComplete    = "complete"
	CatBadFormat   = "bad_format"
)

// Numeric scores a target-value estimation question: the learner names a
// quantity, the driver measures how far off it is and converts the error
// into credit.
type Numeric struct{}

// NewNumeric returns the numeric-estimation driver.
func NewNumeric() *Numeric { return &Numeric{} }

func (d *Numeric) ID() string      { return DriverIDNumeric }
func (d *Numeric) Kind() string    { return KindNumeric }
func (d *Numeric) Version() string { return "1" }

// numericScoring is the scoring config the driver understands. Target is
// the only required field; everything else has defaults.
type numericScoring struct {
	Target *float64 `json:"target"`

	// Mode: "absolute", "relative", or "log" (order-of-magnitude error,
	// falling back to absolute difference when either operand is
	// non-positive).
	Mode string `json:"mode"`

	// Shape: "threshold", "linear", or "gaussian".
	Shape string `json:"shape"`

	Thresholds struct {
		Full          float64 `json:"full"`
		Partial       float64 `json:"partial"`
		PartialCredit float64 `json:"partialCredit"`
	} `json:"thresholds"`

	Tolerance float64 `json:"tolerance"`
	Curvature float64 `json:"curvature"`
	Sigma     float64 `json:"sigma"`

	// Units maps a canonical unit name to its multiplier into the target's
	// unit; UnitAliases folds spellings onto canonical names.
	Units       map[string]float64 `json:"units"`
	UnitAliases map[string]string  `json:"unitAliases"`

	Extraction struct {
		// Pattern is a regex whose first capture group (or whole match)
		// yields candidate numbers from the raw answer text.
		Pattern string `json:"pattern"`
		// Pick selects among multiple matches: "first", "last", "max",
		// "min". Default "first".
		Pick string `json:"pick"`
	} `json:"extraction"`
}

// numericJudge is the typed judge verdict for this driver.
type numericJudge struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// numericState is the driver-owned payload.
type numericState struct {
	Attempts   int      `json:"attempts"`
	LastError  *float64 `json:"lastError,omitempty"`
	BestCredit float64  `json:"bestCredit"`
	UsedProbes []string `json:"usedProbes,omitempty"`
}

func (d *Numeric) BuildJudgeInit(s *bank.Schema, it *bank.Item) JudgeInit {
	ctx := map[string]any{
		"task": "Extract the numeric estimate (and unit, if stated) from the learner's answer. " +
			"Return value null when no number can be read.",
	}
	if it != nil && it.Content != nil {
		if scenario, ok := it.Content["scenario"]; ok {
			ctx["scenario"] = scenario
		}
	}
	return JudgeInit{SystemGuidance: s.Guidance, Context: ctx}
}

func (d *Numeric) InitState(_ *bank.Schema, _ *bank.Item) json.RawMessage {
	return mustJSON(numericState{})
}

func (d *Numeric) MigrateState(stored json.RawMessage) json.RawMessage {
	var st numericState
	if len(stored) > 0 {
		// Tolerant: unknown or missing fields fall back to zero values.
		_ = json.Unmarshal(stored, &st)
	}
	if st.Attempts < 0 {
		st.Attempts = 0
	}
	return mustJSON(st)
}

func (d *Numeric) ParseJudgeOutput(raw json.RawMessage, _ *bank.Schema, _ *bank.Item) (any, error) {
	var j numericJudge
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("numeric judge output: %w", err)
	}
	return j, nil
}

func (d *Numeric) ApplyTurn(in TurnInput) (*Decision, error) {
	var cfg numericScoring
	if err := decodeConfig(in.Scoring, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", d.ID(), err)
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("%s: scoring config has no numeric target", d.ID())
	}

	var st numericState
	_ = json.Unmarshal(in.State, &st)
	st.Attempts++

	judge, _ := in.Judge.(numericJudge)
	value, unit, ok := d.extractValue(judge, in.UserText, cfg)
	if !ok {
		return d.unreadable(in, &st), nil
	}

	value = normalizeUnit(value, unit, cfg)
	errVal := measureError(value, *cfg.Target, cfg.Mode)
	credit := creditFor(errVal, cfg)

	improved := st.LastError != nil && errVal < *st.LastError
	st.LastError = &errVal
	if credit > st.BestCredit {
		st.BestCredit = credit
	}

	dec := &Decision{
		Credit: credit,
		Telemetry: map[string]any{
			"value": value,
			"error": errVal,
			"mode":  effectiveMode(cfg.Mode),
		},
	}

	switch {
	case credit >= 1:
		dec.Completed = true
		dec.Signal = SignalProductive
		dec.Badges = []string{"on target"}
		dec.Probe = d.pickProbe(in, &st, CatComplete, "")
	case credit > 0:
		dec.Signal = SignalProductive
		dec.Badges = []string{"close"}
		dec.Probe = d.pickProbe(in, &st, CatCloseEnough, "")
	case improved:
		dec.Signal = SignalNeutral
		dec.Badges = []string{"warmer"}
		dec.Probe = d.pickProbe(in, &st, CatGoodCont, "")
	default:
		dec.Signal = SignalUnproductive
		cat := CatTooLow
		if value > *cfg.Target {
			cat = CatTooHigh
		}
		dec.Probe = d.pickProbe(in, &st, cat, "")
	}

	best := st.BestCredit
	dec.Score = &best
	dec.State = mustJSON(st)
	return dec, nil
}

// unreadable is the no-number-parses path: zero credit and a generic
// reformulation request.
func (d *Numeric) unreadable(in TurnInput, st *numericState) *Decision {
	probe := d.pickProbe(in, st, CatBadFormat, "")
	if probe == nil {
		// Library has no bad_format entry; fall back to the canned
		// reformulation request. The fixed id keeps it out of the
		// generated-probe gate.
		probe = &Probe{
			ID:       "unreadable",
			Text:     "I couldn't find a number in that. Could you give your estimate as a plain number?",
			Category: CatBadFormat,
		}
	}
	dec := &Decision{
		Credit: 0,
		Signal: SignalUnproductive,
		Probe:  probe,
		Telemetry: map[string]any{
			"error_code": "no_number",
		},
		State: mustJSON(st),
	}
	return dec
}

// pickProbe prefers the library, then synthesizes a generated probe with a
// seeded-RNG template choice. Generated probes go through the probe gate.
func (d *Numeric) pickProbe(in TurnInput, st *numericState, category, recommended string) *Probe {
	library := bank.EffectiveProbes(in.Schema, in.Item)
	if p := selectLibraryProbe(library, category, recommended, st.UsedProbes); p != nil {
		st.UsedProbes = append(st.UsedProbes, p.ID)
		return p
	}

	templates := generatedTemplates[category]
	if len(templates) == 0 {
		return nil
	}
	text := templates[0]
	if in.Rng != nil && len(templates) > 1 {
		text = templates[in.Rng.IntN(len(templates))]
	}
	return &Probe{Text: text, Category: category}
}

// generatedTemplates are fallback probe texts per category, used only when
// the schema/item library has nothing for the category.
var generatedTemplates = map[string][]string{
	CatTooLow: {
		"That seems on the low side. Want to revise your estimate?",
		"Quite a bit lower than I'd expect. Try again?",
	},
	CatTooHigh: {
		"That seems high. Want to revise your estimate?",
		"Higher than I'd expect. Try again?",
	},
	CatCloseEnough: {
		"You're in the right neighborhood. Care to refine it?",
	},
	CatGoodCont: {
		"You're getting warmer. One more try?",
	},
}

// extractValue takes the judge's structured value when present, otherwise
// runs the schema-configured regex over the raw answer.
func (d *Numeric) extractValue(judge numericJudge, userText string, cfg numericScoring) (float64, string, bool) {
	if judge.Value != nil {
		return *judge.Value, judge.Unit, true
	}
	if cfg.Extraction.Pattern == "" {
		return 0, "", false
	}
	re, err := regexp.Compile(cfg.Extraction.Pattern)
	if err != nil {
		return 0, "", false
	}

	var values []float64
	for _, m := range re.FindAllStringSubmatch(userText, -1) {
		candidate := m[0]
		if len(m) > 1 && m[1] != "" {
			candidate = m[1]
		}
		candidate = strings.ReplaceAll(candidate, ",", "")
		if v, err := strconv.ParseFloat(candidate, 64); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, "", false
	}
	return pickValue(values, cfg.Extraction.Pick), "", true
}

func pickValue(values []float64, pick string) float64 {
	switch pick {
	case "last":
		return values[len(values)-1]
	case "max":
		out := values[0]
		for _, v := range values[1:] {
			out = math.Max(out, v)
		}
		return out
	case "min":
		out := values[0]
		for _, v := range values[1:] {
			out = math.Min(out, v)
		}
		return out
	default: // "first"
		return values[0]
	}
}

// normalizeUnit converts value into the target's unit via the conversion
// table. Unknown units pass through unchanged.
func normalizeUnit(value float64, unit string, cfg numericScoring) float64 {
	if unit == "" || cfg.Units == nil {
		return value
	}
	canonical := strings.ToLower(strings.TrimSpace(unit))
	if alias, ok := cfg.UnitAliases[canonical]; ok {
		canonical = alias
	}
	if mult, ok := cfg.Units[canonical]; ok {
		return value * mult
	}
	return value
}

// measureError computes the error between value and target in the
// configured mode.
func measureError(value, target float64, mode string) float64 {
	switch mode {
	case "relative":
		if target == 0 {
			return math.Abs(value - target)
		}
		return math.Abs(value-target) / math.Abs(target)
	case "log":
		// Order-of-magnitude error. Non-positive operands fall back to
		// the linear difference, discontinuity across zero included.
		if value > 0 && target > 0 {
			return math.Abs(math.Log10(value / target))
		}
		return math.Abs(value - target)
	default: // "absolute"
		return math.Abs(value - target)
	}
}

func effectiveMode(mode string) string {
	switch mode {
	case "relative", "log":
		return mode
	default:
		return "absolute"
	}
}

// creditFor converts an error into 0..1 credit using the configured shape.
func creditFor(errVal float64, cfg numericScoring) float64 {
	switch cfg.Shape {
	case "linear":
		tol := cfg.Tolerance
		if tol <= 0 {
			tol = 1
		}
		base := 1 - errVal/tol
		if base <= 0 {
			return 0
		}
		curve := cfg.Curvature
		if curve <= 0 {
			curve = 1
		}
		return math.Pow(base, curve)
	case "gaussian":
		sigma := cfg.Sigma
		if sigma <= 0 {
			sigma = 1
		}
		return math.Exp(-(errVal * errVal) / (2 * sigma * sigma))
	default: // "threshold"
		full := cfg.Thresholds.Full
		if errVal <= full {
			return 1
		}
		if cfg.Thresholds.Partial > 0 && errVal <= cfg.Thresholds.Partial {
			pc := cfg.Thresholds.PartialCredit
			if pc == 0 {
				pc = 0.5
			}
			return pc
		}
		return 0
	}
}
