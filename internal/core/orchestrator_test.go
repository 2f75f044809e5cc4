package core

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicai-triage/internal/llm"
	"clinicai-triage/pkg"
)

// fakeGateway scripts model invocations for orchestrator tests.
type fakeGateway struct {
	result *llm.Result
	err    error

	calls  int
	forced string
}

func (f *fakeGateway) Invoke(_ context.Context, forcedInstruction string, _ []pkg.Message) (*llm.Result, error) {
	f.calls++
	f.forced = forcedInstruction
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestOrchestrator(gw Gateway) *Orchestrator {
	return NewOrchestrator(gw, DefaultLexicon(), 15, slog.Default())
}

func stateWithUserMessage(text string) pkg.SessionState {
	s := pkg.NewSessionState()
	s.AppendMessage(pkg.SenderUser, text)
	return s
}

func TestEmergencyPathOnKeyword(t *testing.T) {
	// Scenario: first message reports chest pain; the model is never called.
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)

	out := o.RunTurn(context.Background(), stateWithUserMessage("estou com dor no peito forte"))

	assert.Zero(t, gw.calls)
	assert.True(t, out.Terminal)
	assert.True(t, out.State.EmergencyDetected)
	assert.True(t, out.State.SummaryConfirmed)
	assert.True(t, out.State.IsCompleted)
	assert.Equal(t, pkg.StatusEmergencyAlert, out.State.Status)
	assert.Equal(t, 0, out.State.TurnCount)
	require.Len(t, out.State.Messages, 2)
	assert.Equal(t, AlertMessage, out.AgentMessage.Text)
	assert.Equal(t, pkg.SenderModel, out.AgentMessage.Sender)
}

func TestEmergencyPathOnPriorFlag(t *testing.T) {
	// emergency_detected is sticky: a harmless follow-up still routes to
	// the emergency path.
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("hoje estou melhor")
	state.EmergencyDetected = true

	out := o.RunTurn(context.Background(), state)

	assert.Zero(t, gw.calls)
	assert.True(t, out.State.EmergencyDetected)
	assert.Equal(t, pkg.StatusEmergencyAlert, out.State.Status)
}

func TestModelPathSuccessContinues(t *testing.T) {
	gw := &fakeGateway{result: &llm.Result{
		Reply:  "Entendi. Há quanto tempo sente isso?",
		Triage: pkg.Triage{QueixaPrincipal: "dor de cabeça"},
	}}
	o := newTestOrchestrator(gw)

	out := o.RunTurn(context.Background(), stateWithUserMessage("estou com dor de cabeça"))

	assert.Equal(t, 1, gw.calls)
	assert.Empty(t, gw.forced)
	assert.False(t, out.Terminal)
	assert.False(t, out.State.IsCompleted)
	assert.Equal(t, pkg.StatusInProgress, out.State.Status)
	assert.Equal(t, 1, out.State.TurnCount)
	assert.Equal(t, "dor de cabeça", out.State.Triage.QueixaPrincipal)
	assert.Equal(t, "Entendi. Há quanto tempo sente isso?", out.AgentMessage.Text)
}

func TestModelPathMergesTriageMonotonically(t *testing.T) {
	// A later response with empty fields never erases captured data.
	gw := &fakeGateway{result: &llm.Result{
		Reply:  "Qual a intensidade da dor, de 0 a 10?",
		Triage: pkg.Triage{SintomasDetalhados: "dor pulsátil"},
	}}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("a dor é pulsátil")
	state.Triage.QueixaPrincipal = "dor de cabeça"
	state.Triage.DuracaoFrequencia = "3 dias"

	out := o.RunTurn(context.Background(), state)

	assert.Equal(t, "dor de cabeça", out.State.Triage.QueixaPrincipal)
	assert.Equal(t, "3 dias", out.State.Triage.DuracaoFrequencia)
	assert.Equal(t, "dor pulsátil", out.State.Triage.SintomasDetalhados)
}

func TestModelPathEmergencyAlertFromResponse(t *testing.T) {
	// The model may flag an emergency the lexicon missed; the flag turns on
	// but the session only closes on the next routing pass.
	gw := &fakeGateway{result: &llm.Result{
		Reply:  "Isso pode ser grave.",
		Triage: pkg.Triage{EmergencyAlert: true},
	}}
	o := newTestOrchestrator(gw)

	out := o.RunTurn(context.Background(), stateWithUserMessage("sinto um aperto estranho"))
	assert.True(t, out.State.EmergencyDetected)
	assert.False(t, out.Terminal)

	// Next turn routes straight to the emergency path.
	next := out.State
	next.AppendMessage(pkg.SenderUser, "o que eu faço?")
	out2 := o.RunTurn(context.Background(), next)
	assert.True(t, out2.Terminal)
	assert.Equal(t, pkg.StatusEmergencyAlert, out2.State.Status)
	assert.Equal(t, AlertMessage, out2.AgentMessage.Text)
}

func TestConfirmationForcesClosing(t *testing.T) {
	// Scenario: mid-triage, the user confirms the summary.
	gw := &fakeGateway{result: &llm.Result{
		Reply:  "Ótimo! Sua triagem foi concluída com sucesso e os dados foram salvos para a sua consulta. Obrigado por usar o ClinicAI.",
		Triage: pkg.Triage{QueixaPrincipal: "dor de cabeça"},
	}}
	o := newTestOrchestrator(gw)

	state := pkg.NewSessionState()
	state.AppendMessage(pkg.SenderUser, "estou com dor de cabeça")
	state.AppendMessage(pkg.SenderModel, "As informações acima estão corretas, e podemos encerrar a triagem e salvar os dados?")
	state.AppendMessage(pkg.SenderUser, "sim, pode salvar")
	state.TurnCount = 1

	out := o.RunTurn(context.Background(), state)

	assert.Equal(t, ForcedClosingInstruction, gw.forced)
	assert.True(t, out.Terminal)
	assert.True(t, out.State.SummaryConfirmed)
	assert.Equal(t, pkg.StatusTriageCompleted, out.State.Status)
	assert.Equal(t, 2, out.State.TurnCount)
}

func TestGatewayFailurePreservesState(t *testing.T) {
	// Scenario: malformed model output yields the apology, an untouched
	// triage snapshot, and one consumed turn.
	gw := &fakeGateway{err: &llm.GatewayError{Kind: llm.KindMalformed, Err: errors.New("bad json")}}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("estou com enjoo")
	state.Triage.QueixaPrincipal = "enjoo"
	state.TurnCount = 3
	before := state.Triage

	out := o.RunTurn(context.Background(), state)

	assert.Equal(t, before, out.State.Triage)
	assert.Equal(t, 4, out.State.TurnCount)
	assert.False(t, out.Terminal)
	require.Len(t, out.State.Messages, 2)
	assert.Equal(t, ApologyMessage, out.AgentMessage.Text)
}

func TestGatewayFailureAfterConfirmationStaysOpen(t *testing.T) {
	// A failed forced-closing call must not terminate the session on an
	// apology; the user can confirm again next turn.
	gw := &fakeGateway{err: &llm.GatewayError{Kind: llm.KindTransport, Err: errors.New("timeout")}}
	o := newTestOrchestrator(gw)

	out := o.RunTurn(context.Background(), stateWithUserMessage("sim, confirmo"))

	assert.Equal(t, ForcedClosingInstruction, gw.forced)
	assert.False(t, out.State.SummaryConfirmed)
	assert.False(t, out.Terminal)
	assert.Equal(t, ApologyMessage, out.AgentMessage.Text)
}

func TestTurnBudgetAllowsReachingCeiling(t *testing.T) {
	// Scenario: a successful cycle at turn 14 reaches 15 and still
	// continues; termination happens on the next invocation.
	gw := &fakeGateway{result: &llm.Result{Reply: "Pode me contar mais?"}}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("não é nada disso")
	state.TurnCount = 14

	out := o.RunTurn(context.Background(), state)
	assert.Equal(t, 15, out.State.TurnCount)
	assert.False(t, out.Terminal)
}

func TestTurnBudgetForcesTermination(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("mais uma coisa...")
	state.TurnCount = 15

	out := o.RunTurn(context.Background(), state)

	assert.Zero(t, gw.calls, "budget-forced termination must not call the model")
	assert.True(t, out.Terminal)
	assert.True(t, out.State.SummaryConfirmed)
	assert.Equal(t, 15, out.State.TurnCount, "turn count never exceeds the ceiling")
	assert.Equal(t, pkg.StatusTriageCompleted, out.State.Status)
	assert.Equal(t, LimitMessage, out.AgentMessage.Text)
}

func TestTurnBudgetTerminationKeepsEmergencyStatus(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)

	state := stateWithUserMessage("ok")
	state.TurnCount = 15
	state.EmergencyDetected = true
	state.SummaryConfirmed = false

	// Prior emergency routes to the emergency path before the budget is
	// even relevant; status must report the emergency.
	out := o.RunTurn(context.Background(), state)
	assert.True(t, out.Terminal)
	assert.Equal(t, pkg.StatusEmergencyAlert, out.State.Status)
}

func TestTerminalIdempotence(t *testing.T) {
	// Re-invoking a closed session re-runs only the completion gate.
	gw := &fakeGateway{}
	o := newTestOrchestrator(gw)

	state := pkg.NewSessionState()
	state.AppendMessage(pkg.SenderUser, "sim, pode salvar")
	state.AppendMessage(pkg.SenderModel, "Ótimo! Sua triagem foi concluída com sucesso.")
	state.SummaryConfirmed = true
	state.TurnCount = 5
	state.Triage.QueixaPrincipal = "dor de cabeça"

	first := o.RunTurn(context.Background(), state)
	second := o.RunTurn(context.Background(), first.State)

	assert.Zero(t, gw.calls)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, 5, second.State.TurnCount)
	assert.Equal(t, first.State.Triage, second.State.Triage)
	assert.Equal(t, pkg.StatusTriageCompleted, second.State.Status)
	assert.Len(t, second.State.Messages, 2)
	assert.Equal(t, "Ótimo! Sua triagem foi concluída com sucesso.", second.AgentMessage.Text)
}

func TestEmergencyStickinessAcrossCycles(t *testing.T) {
	gw := &fakeGateway{result: &llm.Result{Reply: "ok"}}
	o := newTestOrchestrator(gw)

	out := o.RunTurn(context.Background(), stateWithUserMessage("tive uma convulsão"))
	require.True(t, out.State.EmergencyDetected)

	// Terminal now; every further cycle keeps the flag and the status.
	for i := 0; i < 3; i++ {
		out = o.RunTurn(context.Background(), out.State)
		assert.True(t, out.State.EmergencyDetected)
		assert.Equal(t, pkg.StatusEmergencyAlert, out.State.Status)
	}
}
