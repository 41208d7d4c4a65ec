package judge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Verdict is the cleaned-up judge reply for one call.
type Verdict struct {
	// Parsed is the extracted JSON payload, nil when nothing extractable
	// was found. The contract validator has the final word on validity.
	Parsed json.RawMessage

	// RawText is the unmodified model output, kept for the call log.
	RawText string

	// Diagnostic names the extraction path taken, or why it failed.
	Diagnostic string
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract pulls a JSON payload out of a model reply. Models wrap their
// output in tool-call envelopes, markdown fences, or chatter; this walks the
// known shapes from most to least structured and never panics on garbage.
func Extract(raw string) Verdict {
	v := Verdict{RawText: raw}
	text := strings.TrimSpace(raw)
	if text == "" {
		v.Diagnostic = "empty reply"
		return v
	}

	// Well-formed JSON first. Envelope shapes (tool calls, legacy function
	// calls) are unwrapped; anything else valid passes through as-is.
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if args, path := unwrapEnvelope(parsed); args != nil {
			v.Parsed = args
			v.Diagnostic = path
			return v
		}
		if _, isNum := parsed.(float64); isNum {
			v.Parsed = json.RawMessage(`{"value": ` + text + `}`)
			v.Diagnostic = "bare number"
			return v
		}
		v.Parsed = json.RawMessage(text)
		v.Diagnostic = "direct"
		return v
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) {
			v.Parsed = json.RawMessage(inner)
			v.Diagnostic = "fenced block"
			return v
		}
	}

	if obj := firstObject(text); obj != "" {
		v.Parsed = json.RawMessage(obj)
		v.Diagnostic = "embedded object"
		return v
	}

	if n, ok := bareNumber(text); ok {
		v.Parsed = json.RawMessage(`{"value": ` + n + `}`)
		v.Diagnostic = "bare number"
		return v
	}

	v.Diagnostic = "no JSON found"
	return v
}

// unwrapEnvelope digs tool-call or legacy function-call arguments out of a
// provider-shaped reply. Returns (nil, "") for plain payloads.
func unwrapEnvelope(parsed any) (json.RawMessage, string) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, ""
	}

	if calls, ok := obj["tool_calls"].([]any); ok && len(calls) > 0 {
		if call, ok := calls[0].(map[string]any); ok {
			if args := argumentsOf(call["function"]); args != nil {
				return args, "tool-call arguments"
			}
		}
	}

	if args := argumentsOf(obj["function_call"]); args != nil {
		return args, "function-call arguments"
	}

	// Chat envelope: {"content": "..."} with the payload inside.
	if content, ok := obj["content"].(string); ok {
		if inner := Extract(content); inner.Parsed != nil {
			return inner.Parsed, "message content"
		}
	}

	return nil, ""
}

// argumentsOf reads the "arguments" field of a function-call object. The
// field is a JSON string in the wire format, but some relays inline it.
func argumentsOf(fn any) json.RawMessage {
	obj, ok := fn.(map[string]any)
	if !ok {
		return nil
	}
	switch args := obj["arguments"].(type) {
	case string:
		if json.Valid([]byte(args)) {
			return json.RawMessage(args)
		}
	case map[string]any:
		raw, err := json.Marshal(args)
		if err == nil {
			return raw
		}
	}
	return nil
}

// firstObject returns the first balanced top-level {...} substring that
// parses as JSON, or "".
func firstObject(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					i = len(text)
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += 1 + next
	}
	return ""
}

var numberToken = regexp.MustCompile(`-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`)

// bareNumber finds a lone numeric answer in short chatter ("about 120").
// Replies with several numbers are ambiguous and rejected.
func bareNumber(text string) (string, bool) {
	matches := numberToken.FindAllString(text, 2)
	if len(matches) != 1 {
		return "", false
	}
	if _, err := strconv.ParseFloat(matches[0], 64); err != nil {
		return "", false
	}
	return matches[0], true
}
