package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"clinicai-triage/pkg"
)

// CompletionEvent is published on the notify channel when a triage closes,
// so clinic dashboards can react without polling.
type CompletionEvent struct {
	ChatID string     `json:"chat_id"`
	Status pkg.Status `json:"status"`
}

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL for completed
// triages.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
}

// NewNotifier constructs a Notifier.  dsn is the connection string used for
// the dedicated listener connection; channel should match the NOTIFY_CHANNEL
// configuration of all server instances.
func NewNotifier(db *sql.DB, dsn, channel string) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel}
}

// NotifyCompletion publishes a completion event for the chat.
func (n *Notifier) NotifyCompletion(ctx context.Context, chatID string, status pkg.Status) error {
	payload, err := json.Marshal(CompletionEvent{ChatID: chatID, Status: status})
	if err != nil {
		return err
	}
	_, err = n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, string(payload))
	return err
}

// Listen yields completion events as they arrive on the channel.  The
// returned channel is closed when ctx is cancelled.  Notifications with
// payloads that do not decode as CompletionEvent are logged and dropped.
func (n *Notifier) Listen(ctx context.Context) (<-chan CompletionEvent, error) {
	listener := pq.NewListener(n.DSN, 10*time.Second, time.Minute,
		func(_ pq.ListenerEventType, err error) {
			if err != nil {
				slog.Error("pq listener event", "error", err)
			}
		})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	ch := make(chan CompletionEvent)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case notification := <-listener.Notify:
				if notification == nil {
					// Connection re-established; nothing to deliver.
					continue
				}
				var ev CompletionEvent
				if err := json.Unmarshal([]byte(notification.Extra), &ev); err != nil {
					slog.Error("bad completion payload", "error", err, "payload", notification.Extra)
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
