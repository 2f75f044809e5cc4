package pkg

import "time"

// Sender identifies who authored a message.  There are only two senders in a
// triage conversation: the patient ("user") and the agent ("model").
type Sender string

const (
	SenderUser  Sender = "user"
	SenderModel Sender = "model"
)

// Message is one entry in a chat transcript.  IDs are 1-based positions
// assigned at append time and never reused or reordered.
type Message struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

// Triage holds the structured intake data extracted from the conversation.
// The JSON keys are the contract with the model's structured output and with
// the clinic systems that consume completed triages.
type Triage struct {
	QueixaPrincipal    string `json:"queixa_principal"`
	SintomasDetalhados string `json:"sintomas_detalhados"`
	DuracaoFrequencia  string `json:"duracao_frequencia"`
	Intensidade        string `json:"intensidade"`
	HistoricoRelevante string `json:"historico_relevante"`
	MedidasTomadas     string `json:"medidas_tomadas"`
	EmergencyAlert     bool   `json:"emergency_alert"`
}

// Merge folds a newer triage snapshot into the receiver.  Non-empty incoming
// fields overwrite; empty incoming fields never erase previously captured
// information.  The emergency flag only ever turns on.
func (t *Triage) Merge(in Triage) {
	if in.QueixaPrincipal != "" {
		t.QueixaPrincipal = in.QueixaPrincipal
	}
	if in.SintomasDetalhados != "" {
		t.SintomasDetalhados = in.SintomasDetalhados
	}
	if in.DuracaoFrequencia != "" {
		t.DuracaoFrequencia = in.DuracaoFrequencia
	}
	if in.Intensidade != "" {
		t.Intensidade = in.Intensidade
	}
	if in.HistoricoRelevante != "" {
		t.HistoricoRelevante = in.HistoricoRelevante
	}
	if in.MedidasTomadas != "" {
		t.MedidasTomadas = in.MedidasTomadas
	}
	t.EmergencyAlert = t.EmergencyAlert || in.EmergencyAlert
}

// Status describes how a session ended.  It is only meaningful once
// IsCompleted is true; open sessions report StatusInProgress.
type Status string

const (
	StatusInProgress      Status = "IN_PROGRESS"
	StatusTriageCompleted Status = "TRIAGE_COMPLETED"
	StatusEmergencyAlert  Status = "EMERGENCY_ALERT"
)

// SessionState is the durable record of one conversation.  It is persisted as
// a whole document and replaced atomically after every orchestrator cycle.
type SessionState struct {
	Messages          []Message `json:"messages"`
	Triage            Triage    `json:"triagem"`
	SummaryConfirmed  bool      `json:"resumo_confirmado"`
	EmergencyDetected bool      `json:"emergency_detected"`
	TurnCount         int       `json:"turn_count"`
	IsCompleted       bool      `json:"is_completed"`
	Status            Status    `json:"status"`
}

// AppendMessage adds a message with the next sequential id and returns it.
func (s *SessionState) AppendMessage(sender Sender, text string) Message {
	m := Message{ID: len(s.Messages) + 1, Text: text, Sender: sender}
	s.Messages = append(s.Messages, m)
	return m
}

// LastUserText returns the text of the newest user message, or "" if the
// transcript contains none.
func (s *SessionState) LastUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == SenderUser {
			return s.Messages[i].Text
		}
	}
	return ""
}

// LastModelMessage returns the newest agent message, or nil if there is none.
func (s *SessionState) LastModelMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == SenderModel {
			return &s.Messages[i]
		}
	}
	return nil
}

// NewSessionState returns the state of a freshly created conversation.
func NewSessionState() SessionState {
	return SessionState{Status: StatusInProgress}
}

// Chat is the persisted document for one conversation.
type Chat struct {
	ID        string       `json:"chat_id"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"creation"`
	State     SessionState `json:"state"`
}

// Preview projects the chat into its list representation.
func (c *Chat) Preview() ChatPreview {
	p := ChatPreview{
		ID:          c.ID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		IsCompleted: c.State.IsCompleted,
		Triage:      c.State.Triage,
	}
	if n := len(c.State.Messages); n > 0 {
		p.LastMessage = c.State.Messages[n-1].Text
	}
	return p
}

// ChatPreview is the list projection returned by the chats index.
type ChatPreview struct {
	ID          string    `json:"chat_id"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"creation"`
	LastMessage string    `json:"lastMessage"`
	Triage      Triage    `json:"triagem"`
}

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	Title string `json:"title"`
}

// MessageInput is the body of POST /api/chats/{id}/messages.
type MessageInput struct {
	Text string `json:"text"`
}
