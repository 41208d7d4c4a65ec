// Package judge turns bank definitions and interview turns into LLM
// requests, and turns whatever the model sends back into clean JSON for the
// contract validator. It also implements the kernel's priming transport.
package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/inquiz/internal/bank"
	"github.com/abhisek/inquiz/internal/llm"
)

// Turn is one prior question/answer pair shown to the judge for context.
type Turn struct {
	Question string
	Answer   string
}

// TurnContext is everything the builder needs for one classification call.
type TurnContext struct {
	Schema  *bank.Schema
	Item    *bank.Item
	History []Turn

	// Answer is the learner's latest free-text answer, the thing being
	// classified.
	Answer string
}

const strictJSONInstructions = `You are a strict classifier. Reply with a single JSON object and nothing else: no prose, no markdown fences, no explanation. The object must satisfy the JSON Schema given in the request.`

// BuildVerdictRequest assembles the classification prompt. The system prompt
// carries the strict-output rules and the family guidance; the user message
// carries the scenario, the conversation so far, the probe library, and the
// literal contract.
func BuildVerdictRequest(tc TurnContext, maxTokens int) llm.Request {
	var sys strings.Builder
	sys.WriteString(strictJSONInstructions)
	if g := tc.Schema.Guidance; g != "" {
		sys.WriteString("\n\n")
		sys.WriteString(g)
	}
	if len(tc.Schema.DominanceOrder) > 0 {
		sys.WriteString("\n\nWhen an answer fits more than one category, pick the earliest of: ")
		sys.WriteString(strings.Join(tc.Schema.DominanceOrder, ", "))
		sys.WriteString(".")
	}

	var user strings.Builder
	if tc.Item.Content != nil {
		if scenario, ok := tc.Item.Content["scenario"].(string); ok && scenario != "" {
			user.WriteString("Scenario:\n")
			user.WriteString(scenario)
			user.WriteString("\n\n")
		}
	}
	user.WriteString("Question: ")
	user.WriteString(tc.Item.Stem)
	user.WriteString("\n\n")

	for _, t := range tc.History {
		if t.Question != "" {
			user.WriteString("Interviewer: ")
			user.WriteString(t.Question)
			user.WriteString("\n")
		}
		if t.Answer != "" {
			user.WriteString("Candidate: ")
			user.WriteString(t.Answer)
			user.WriteString("\n")
		}
	}
	user.WriteString("Candidate: ")
	user.WriteString(tc.Answer)
	user.WriteString("\n\n")

	if probes := bank.EffectiveProbes(tc.Schema, tc.Item); len(probes) > 0 {
		user.WriteString("Available follow-up probes (recommend at most one by id):\n")
		for _, p := range probes {
			fmt.Fprintf(&user, "- %s [%s]: %s\n", p.ID, p.Category, p.Text)
		}
		user.WriteString("\n")
	}

	user.WriteString("Reply with one JSON object matching this schema exactly:\n")
	user.Write(tc.Schema.Contract)

	req := llm.Request{
		System:    sys.String(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: user.String()}},
		MaxTokens: maxTokens,
	}

	// Object contracts double as the provider's structured-output schema.
	// Boolean contracts have nothing to enforce at the transport level.
	var def map[string]any
	if err := json.Unmarshal(tc.Schema.Contract, &def); err == nil && def != nil {
		req.Schema = &llm.Schema{
			Name:       "verdict-" + tc.Schema.ID,
			Definition: def,
		}
	}

	return req
}

// BuildPrimeRequest assembles the one-time priming round-trip for a question
// family. The judge is asked to acknowledge with {"ack": true}.
func BuildPrimeRequest(systemGuidance string, context map[string]any, maxTokens int) llm.Request {
	var sys strings.Builder
	sys.WriteString(strictJSONInstructions)
	if systemGuidance != "" {
		sys.WriteString("\n\n")
		sys.WriteString(systemGuidance)
	}

	var user strings.Builder
	user.WriteString("You will classify interview answers for this question family. Context:\n")
	if raw, err := json.MarshalIndent(context, "", "  "); err == nil {
		user.Write(raw)
	}
	user.WriteString("\n\nAcknowledge with the JSON object {\"ack\": true}.")

	return llm.Request{
		System:    sys.String(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: user.String()}},
		MaxTokens: maxTokens,
		Schema: &llm.Schema{
			Name: "prime-ack",
			Definition: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"ack": map[string]any{"type": "boolean"}},
				"required":             []any{"ack"},
				"additionalProperties": false,
			},
		},
	}
}
