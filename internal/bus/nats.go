package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// subjectPrefix namespaces every subject the job publishes on.
const subjectPrefix = "riskcenter"

// WorkerQueue is the queue group run requests are delivered through, so each
// request is scored by exactly one of the subscribed processes.
const WorkerQueue = "riskcenter-workers"

// NATSBus carries run events between riskcenter processes. Completion, failure
// and alert events fan out to every subscriber; run requests are load-balanced
// across the worker queue group.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to cfg.NATSUrl. The initial connect fails fast; once
// connected the client reconnects on its own and buffers publishes meanwhile.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = nats.DefaultMaxReconnect
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = nats.DefaultReconnectWait
	}

	opts := []nats.Option{
		nats.Name("riskcenter"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	slog.Info("NATS connected", "url", conn.ConnectedUrl())

	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
	}, nil
}

// Publish wraps payload in a message envelope and sends it on the topic's
// subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject(subjectPrefix, topic), data)
}

// Subscribe registers handler for topic. Run requests join the worker queue
// group; every other topic is a plain fan-out subscription.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	deliver := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping malformed run event", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	if queue := queueGroup(topic); queue != "" {
		natsSub, err = b.conn.QueueSubscribe(subject(subjectPrefix, topic), queue, deliver)
	} else {
		natsSub, err = b.conn.Subscribe(subject(subjectPrefix, topic), deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{bus: b, topic: topic, sub: natsSub}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions so in-flight run events are delivered, then
// closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

// queueGroup returns the queue group for topic, or "" for fan-out topics.
func queueGroup(topic string) string {
	if topic == domain.TopicRunRequested {
		return WorkerQueue
	}
	return ""
}

// subject maps a topic to a NATS subject. Topics that already carry the
// prefix are used as-is.
func subject(prefix, topic string) string {
	if strings.HasPrefix(topic, prefix+".") {
		return topic
	}
	return prefix + "." + topic
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
