package judge

import (
	"context"
	"encoding/json"

	"github.com/abhisek/inquiz/internal/engine"
	"github.com/abhisek/inquiz/internal/llm"
)

const defaultMaxTokens = 1024

// Client runs judge calls over an llm.Provider. It implements the kernel's
// Primer; the verdict call is driven by the boundary loop, which feeds the
// extracted JSON into the kernel.
type Client struct {
	provider  llm.Provider
	maxTokens int
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTokens overrides the per-call output token cap.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient builds a judge client over a provider.
func NewClient(p llm.Provider, opts ...Option) *Client {
	c := &Client{provider: p, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Judge classifies one answer. Transport errors surface as errors; a reply
// the model garbled comes back as a Verdict with nil Parsed, which the
// kernel's contract validation turns into a recovery turn.
func (c *Client) Judge(ctx context.Context, sessionID string, tc TurnContext) (*Verdict, error) {
	ctx = llm.WithPurpose(llm.WithSession(ctx, sessionID), llm.PurposeVerdict)

	resp, err := c.provider.Generate(ctx, BuildVerdictRequest(tc, c.maxTokens))
	if err != nil {
		return nil, err
	}
	v := Extract(string(resp.Content))
	return &v, nil
}

// Prime performs the one-time family setup round-trip. Anything short of an
// explicit {"ack": true} leaves the family unprimed for a later retry.
func (c *Client) Prime(ctx context.Context, req engine.PrimeRequest) (bool, error) {
	ctx = llm.WithPurpose(llm.WithSession(ctx, req.SessionID), llm.PurposePrime)

	primeCtx := make(map[string]any, len(req.Payload.Context)+2)
	for k, v := range req.Payload.Context {
		primeCtx[k] = v
	}
	primeCtx["schema_id"] = req.Schema.ID
	primeCtx["guidance_version"] = req.GuidanceVersion

	resp, err := c.provider.Generate(ctx, BuildPrimeRequest(req.Payload.SystemGuidance, primeCtx, c.maxTokens))
	if err != nil {
		return false, err
	}

	v := Extract(string(resp.Content))
	if v.Parsed == nil {
		return false, nil
	}
	var ack struct {
		Ack bool `json:"ack"`
	}
	if err := json.Unmarshal(v.Parsed, &ack); err != nil {
		return false, nil
	}
	return ack.Ack, nil
}
