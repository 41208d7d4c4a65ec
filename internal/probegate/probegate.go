// Package probegate sanitizes candidate follow-up probes before they reach
// the user. Library probes carry pre-established trust (the schema author
// wrote them); generated probes are screened against the schema's probe
// policy so a judge can never leak hints or off-script prompts.
package probegate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/driver"
)

// DefaultMaxLength caps generated probe text in runes.
const DefaultMaxLength = 160

// defaultForbidden blocks hint-shaped phrasing in generated probes.
var defaultForbidden = []*regexp.Regexp{
	regexp.MustCompile(`(?i)for example`),
	regexp.MustCompile(`(?i)\bbecause\b`),
	regexp.MustCompile(`(?i)try mentioning`),
	regexp.MustCompile(`(?i)\bhint\b`),
	regexp.MustCompile(`(?i)such as`),
	regexp.MustCompile(`(?i)the answer is`),
}

// Result reports what the gate did with a candidate probe.
type Result struct {
	// Probe is the sanitized probe, or nil when blocked (or when the
	// candidate was nil).
	Probe *driver.Probe

	Blocked   bool
	Truncated bool

	// Reason explains a block or truncation, for telemetry.
	Reason string
}

// Enforce screens a candidate probe against the schema's probe policy.
func Enforce(policy bank.ProbePolicy, candidate *driver.Probe) Result {
	if candidate == nil {
		return Result{}
	}

	// Library probes pass through untouched.
	if !candidate.Generated() {
		return Result{Probe: candidate}
	}

	if policy.DisableGenerated {
		return Result{Blocked: true, Reason: "generated probes disabled"}
	}

	if !categoryAllowed(policy.AllowedCategories, candidate.Category) {
		return Result{
			Blocked: true,
			Reason:  fmt.Sprintf("category %q not in allow-list", candidate.Category),
		}
	}

	for _, re := range defaultForbidden {
		if re.MatchString(candidate.Text) {
			return Result{Blocked: true, Reason: "matches forbidden pattern " + re.String()}
		}
	}
	for _, pat := range policy.ForbiddenPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			// Unparseable patterns were rejected at bank load; a stray one
			// here blocks conservatively.
			return Result{Blocked: true, Reason: "unparseable forbidden pattern"}
		}
		if re.MatchString(candidate.Text) {
			return Result{Blocked: true, Reason: "matches forbidden pattern " + pat}
		}
	}

	maxLen := policy.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	out := *candidate
	runes := []rune(strings.TrimSpace(out.Text))
	if len(runes) > maxLen {
		out.Text = string(runes[:maxLen-1]) + "…"
		return Result{
			Probe:     &out,
			Truncated: true,
			Reason:    fmt.Sprintf("truncated to %d runes", maxLen),
		}
	}
	out.Text = string(runes)
	return Result{Probe: &out}
}

func categoryAllowed(allowed []string, category string) bool {
	for _, c := range allowed {
		if c == category {
			return true
		}
	}
	return false
}
