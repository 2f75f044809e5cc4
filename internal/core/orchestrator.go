// Package core implements the per-turn triage state machine: given the
// persisted session state with the newest user message appended, it runs
// exactly one decision cycle and returns the next state plus the agent
// message to surface.  Persistence belongs to the caller.
package core

import (
	"context"
	"errors"
	"log/slog"

	"clinicai-triage/internal/llm"
	"clinicai-triage/pkg"
)

// Gateway is the model-invocation dependency of the orchestrator.  It is an
// interface so tests can script responses without a real model.
type Gateway interface {
	Invoke(ctx context.Context, forcedInstruction string, history []pkg.Message) (*llm.Result, error)
}

// Outcome is the result of one orchestrator cycle.
type Outcome struct {
	// State is the next session state to persist.
	State pkg.SessionState
	// AgentMessage is the newest model message to surface to the user.
	AgentMessage pkg.Message
	// Terminal reports whether the session is now closed.
	Terminal bool
}

// Orchestrator is the turn state machine.  It is safe for concurrent use
// across different sessions; invocations for the same session must be
// serialized by the caller.
type Orchestrator struct {
	gateway      Gateway
	classifier   *Classifier
	confirmation []string
	maxTurns     int
	logger       *slog.Logger
}

// NewOrchestrator wires the state machine.  maxTurns is the hard ceiling on
// model-invocation cycles per session.
func NewOrchestrator(gateway Gateway, lex *Lexicon, maxTurns int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:      gateway,
		classifier:   NewClassifier(lex),
		confirmation: lex.Confirmation,
		maxTurns:     maxTurns,
		logger:       logger,
	}
}

// RunTurn executes exactly one decision cycle.  Gateway failures never
// escape: they become the fixed apology message.  The only caller-visible
// failure mode of a turn, "conversation not found", is a precondition handled
// before this point.
func (o *Orchestrator) RunTurn(ctx context.Context, state pkg.SessionState) Outcome {
	// A closed session re-runs only the completion gate: no new messages,
	// no triage mutation, no turn consumed.
	if state.SummaryConfirmed {
		return o.completionGate(state)
	}

	if o.classifier.Classify(state.LastUserText(), state.EmergencyDetected) {
		return o.completionGate(o.emergencyPath(state))
	}

	// Turn-budget safety valve.  Checked before the model call so the
	// ceiling is never exceeded.
	if state.TurnCount >= o.maxTurns {
		o.logger.Warn("turn budget exhausted, forcing completion",
			"turn_count", state.TurnCount, "max_turns", o.maxTurns)
		state.AppendMessage(pkg.SenderModel, LimitMessage)
		state.SummaryConfirmed = true
		return o.completionGate(state)
	}

	return o.completionGate(o.modelPath(ctx, state))
}

// emergencyPath appends the fixed alert and closes the session without
// consuming turn budget or calling the model.
func (o *Orchestrator) emergencyPath(state pkg.SessionState) pkg.SessionState {
	state.AppendMessage(pkg.SenderModel, AlertMessage)
	state.EmergencyDetected = true
	state.SummaryConfirmed = true
	return state
}

// modelPath runs one model invocation.  A failed invocation still consumes a
// turn, which bounds retries to the budget.
func (o *Orchestrator) modelPath(ctx context.Context, state pkg.SessionState) pkg.SessionState {
	forced := ""
	userConfirmed := containsAny(state.LastUserText(), o.confirmation)
	if userConfirmed {
		forced = ForcedClosingInstruction
	}

	res, err := o.gateway.Invoke(ctx, forced, state.Messages)
	state.TurnCount++
	if err != nil {
		kind := llm.ErrorKind("unknown")
		var gerr *llm.GatewayError
		if errors.As(err, &gerr) {
			kind = gerr.Kind
		}
		o.logger.Error("model invocation failed", "kind", string(kind), "error", err)
		state.AppendMessage(pkg.SenderModel, ApologyMessage)
		return state
	}

	state.AppendMessage(pkg.SenderModel, res.Reply)
	state.Triage.Merge(res.Triage)
	state.EmergencyDetected = state.EmergencyDetected || res.Triage.EmergencyAlert
	if userConfirmed {
		state.SummaryConfirmed = true
	}
	return state
}

// completionGate decides Continue vs Terminate and derives the persisted
// status fields.
func (o *Orchestrator) completionGate(state pkg.SessionState) Outcome {
	if state.SummaryConfirmed {
		state.IsCompleted = true
		if state.EmergencyDetected {
			state.Status = pkg.StatusEmergencyAlert
		} else {
			state.Status = pkg.StatusTriageCompleted
		}
	} else {
		state.IsCompleted = false
		state.Status = pkg.StatusInProgress
	}

	out := Outcome{State: state, Terminal: state.IsCompleted}
	if m := state.LastModelMessage(); m != nil {
		out.AgentMessage = *m
	}
	return out
}
