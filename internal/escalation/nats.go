package escalation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSChannel publishes escalation events and receives responses over NATS.
type NATSChannel struct {
	conn   *nats.Conn
	prefix string
	sub    *nats.Subscription
	logger *zap.Logger
}

// NewNATS wraps an established connection. prefix defaults to "taskpilot".
func NewNATS(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSChannel {
	if prefix == "" {
		prefix = "taskpilot"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSChannel{conn: conn, prefix: prefix, logger: logger}
}

// EventsSubject is where escalation events are published.
func (n *NATSChannel) EventsSubject() string {
	return n.prefix + ".escalations"
}

// ResponsesSubject is where human responses are expected.
func (n *NATSChannel) ResponsesSubject() string {
	return n.prefix + ".responses"
}

// Publish sends ev as JSON.
func (n *NATSChannel) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling escalation event: %w", err)
	}
	if err := n.conn.Publish(n.EventsSubject(), data); err != nil {
		return fmt.Errorf("publishing escalation event: %w", err)
	}
	return nil
}

// Subscribe delivers every response to handle. Malformed messages are
// logged and skipped. If the message has a reply subject the handler error
// (or "ok") is sent back.
func (n *NATSChannel) Subscribe(ctx context.Context, handle ResponseHandler) error {
	sub, err := n.conn.Subscribe(n.ResponsesSubject(), func(msg *nats.Msg) {
		var r Response
		if err := json.Unmarshal(msg.Data, &r); err != nil || r.TaskID == "" {
			n.logger.Warn("discarding malformed human response", zap.String("subject", msg.Subject))
			n.reply(msg, fmt.Errorf("malformed response"))
			return
		}
		err := handle(ctx, r)
		if err != nil {
			n.logger.Warn("human response rejected", zap.String("task.id", r.TaskID), zap.Error(err))
		}
		n.reply(msg, err)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", n.ResponsesSubject(), err)
	}
	n.sub = sub
	return nil
}

func (n *NATSChannel) reply(msg *nats.Msg, err error) {
	if msg.Reply == "" {
		return
	}
	body := []byte("ok")
	if err != nil {
		body = []byte("error: " + err.Error())
	}
	_ = msg.Respond(body)
}

// Close unsubscribes; the connection stays owned by the caller.
func (n *NATSChannel) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}
