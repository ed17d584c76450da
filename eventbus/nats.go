package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes events over a NATS connection. The routing key tuple is
// joined with "." to form the subject, e.g. {"buildrequest","7","3","42",
// "complete"} becomes "buildrequest.7.3.42.complete". Wildcards in
// Subscribe's keyPrefix follow NATS token-wildcard ("*") and
// tail-wildcard (">") conventions, so a prefix like {"buildrequest", ">"}
// subscribes to every buildrequest event.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSBus connects to url. subjectPrefix, if non-empty, is prepended to
// every subject, letting multiple dispatcher deployments share one NATS
// cluster without collisions.
func NewNATSBus(url, subjectPrefix string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{conn: conn, prefix: subjectPrefix}, nil
}

func (b *NATSBus) subject(key RoutingKey) string {
	s := key.String()
	if b.prefix == "" {
		return s
	}
	return b.prefix + "." + s
}

func (b *NATSBus) Publish(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := b.conn.Publish(b.subject(evt.Key), data); err != nil {
		return fmt.Errorf("publish to %s: %w", b.subject(evt.Key), err)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, keyPrefix RoutingKey) (<-chan Event, func(), error) {
	subject := b.subject(keyPrefix)
	if strings.HasSuffix(subject, ".") {
		subject += ">"
	}

	out := make(chan Event, 64)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var payload interface{}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		select {
		case out <- Event{Key: strings.Split(msg.Subject, "."), Payload: payload}:
		default:
		}
	})
	if err != nil {
		close(out)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	cancel := func() {
		_ = sub.Unsubscribe()
		close(out)
	}
	return out, cancel, nil
}

// Close drains and closes the underlying NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
