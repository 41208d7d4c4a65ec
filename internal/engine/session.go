package engine

import (
	"encoding/json"
	"time"

	"github.com/abhisek/inquiz/internal/ability"
)

// Session is the live state for one interviewee. The kernel receives a
// session value, updates it, and returns; the caller owns persistence.
type Session struct {
	ID string `json:"id"`

	// Ability is the per-key theta vector. It evolves monotonically across
	// items sharing a key and is never reset mid-session.
	Ability ability.Vector `json:"ability,omitempty"`

	// Units holds one state envelope per item attempted this session.
	Units map[string]*Unit `json:"units,omitempty"`

	// Primed marks completed judge priming, keyed driverID@guidanceVersion.
	Primed map[string]bool `json:"primed,omitempty"`

	Transcript []*TranscriptEntry `json:"transcript,omitempty"`

	StartedAt time.Time `json:"startedAt"`
}

// NewSession returns an empty session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Ability:   ability.Vector{},
		Units:     make(map[string]*Unit),
		Primed:    make(map[string]bool),
		StartedAt: now,
	}
}

// Unit is the state envelope for one (session, item) attempt. The kernel
// owns every field except Payload, which belongs to the driver.
type Unit struct {
	ItemID          string `json:"itemId"`
	SchemaID        string `json:"schemaId"`
	DriverID        string `json:"driverId"`
	DriverVersion   string `json:"driverVersion"`
	ContractVersion string `json:"contractVersion"`
	AbilityKey      string `json:"abilityKey"`

	// Turns counts every turn seen for this envelope; Attempts counts
	// scored answers. Neither resets mid-item.
	Turns    int `json:"turns"`
	Attempts int `json:"attempts"`

	// ConsecutiveMisses and TotalMisses track unproductive turns for the
	// failure caps.
	ConsecutiveMisses int `json:"consecutiveMisses"`
	TotalMisses       int `json:"totalMisses"`

	StartedAt time.Time `json:"startedAt"`
	Completed bool      `json:"completed"`

	// Payload is the opaque driver-owned state.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TranscriptEntry records one item's exchanges. Entries are mutated only
// while their item is open; completion closes them for good.
type TranscriptEntry struct {
	ItemID   string `json:"itemId"`
	Question string `json:"question"`

	// Answer is the learner's first answer to the stem.
	Answer string `json:"answer"`
	Label  string `json:"label"`

	// AbilityBefore snapshots the ability vector as the item began.
	AbilityBefore ability.Vector `json:"abilityBefore,omitempty"`

	Exchanges []Exchange `json:"exchanges,omitempty"`

	Closed bool `json:"closed"`
}

// Exchange is one probe/answer round within an item. A pending exchange
// has its probe set and an empty answer until the next turn fills it.
type Exchange struct {
	ProbeID   string `json:"probeId,omitempty"`
	ProbeText string `json:"probeText"`
	Category  string `json:"category,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Label     string `json:"label,omitempty"`
}

// openEntry returns the open transcript entry for an item, or nil.
func (s *Session) openEntry(itemID string) *TranscriptEntry {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		e := s.Transcript[i]
		if e.ItemID == itemID && !e.Closed {
			return e
		}
	}
	return nil
}

// pendingExchange returns the entry's last exchange awaiting an answer.
func (e *TranscriptEntry) pendingExchange() *Exchange {
	if len(e.Exchanges) == 0 {
		return nil
	}
	last := &e.Exchanges[len(e.Exchanges)-1]
	if last.Answer == "" {
		return last
	}
	return nil
}
