// Package llm wraps the language-model capability behind a gateway that owns
// prompt assembly and structured-response parsing.  The rest of the system
// never sees raw model output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clinicai-triage/pkg"
)

// ErrorKind distinguishes gateway failures for observability.  The turn
// orchestrator treats every kind the same way (fallback message, triage
// untouched).
type ErrorKind string

const (
	// KindTransport means the model call itself failed (network, timeout,
	// API error).
	KindTransport ErrorKind = "transport"
	// KindMalformed means the call succeeded but the text could not be
	// parsed into the expected two-field payload.
	KindMalformed ErrorKind = "malformed_response"
)

// GatewayError wraps a failed model invocation with its kind and, for
// malformed responses, the raw text that failed to parse.
type GatewayError struct {
	Kind ErrorKind
	Err  error
	Raw  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("model gateway: %s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Result is the parsed outcome of one successful model invocation.
type Result struct {
	Reply  string
	Triage pkg.Triage
}

// payload is the bit-exact contract with the model: exactly two top-level
// keys, the second holding the six triage fields plus the emergency flag.
type payload struct {
	NextResponse *string     `json:"next_response"`
	TriageData   *pkg.Triage `json:"triagem_data"`
}

// Gateway builds prompts and parses model responses.  It performs exactly one
// client call per Invoke; retries are a caller concern.
type Gateway struct {
	client       Client
	systemPrompt string
}

// NewGateway constructs a Gateway over the given client.
func NewGateway(client Client, systemPrompt string) *Gateway {
	return &Gateway{client: client, systemPrompt: systemPrompt}
}

// Invoke assembles one prompt from the system instructions, an optional
// forced instruction and the full message history, calls the model once, and
// parses the structured payload.  Any returned error is a *GatewayError.
func (g *Gateway) Invoke(ctx context.Context, forcedInstruction string, history []pkg.Message) (*Result, error) {
	prompt := g.buildPrompt(forcedInstruction, history)

	raw, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return nil, &GatewayError{Kind: KindTransport, Err: err}
	}
	return parseResponse(raw)
}

func (g *Gateway) buildPrompt(forcedInstruction string, history []pkg.Message) string {
	var b strings.Builder
	b.WriteString(g.systemPrompt)
	if forcedInstruction != "" {
		b.WriteString(forcedInstruction)
	}
	b.WriteString("\n\nHISTÓRICO DA CONVERSA:\n")
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Sender))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}

func parseResponse(raw string) (*Result, error) {
	cleaned := stripCodeFence(raw)

	var p payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, &GatewayError{Kind: KindMalformed, Err: err, Raw: raw}
	}
	if p.NextResponse == nil || p.TriageData == nil {
		return nil, &GatewayError{
			Kind: KindMalformed,
			Err:  fmt.Errorf("payload missing next_response or triagem_data"),
			Raw:  raw,
		}
	}
	if *p.NextResponse == "" {
		return nil, &GatewayError{
			Kind: KindMalformed,
			Err:  fmt.Errorf("payload next_response is empty"),
			Raw:  raw,
		}
	}
	return &Result{Reply: *p.NextResponse, Triage: *p.TriageData}, nil
}

// stripCodeFence removes a markdown code-fence wrapper ("```json ... ```" or
// plain "``` ... ```") that models commonly emit around JSON payloads.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}
	return strings.TrimSpace(text)
}
