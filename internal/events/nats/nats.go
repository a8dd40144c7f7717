package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chunkdrop/internal/config"
	"chunkdrop/internal/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher 把生命周期事件写入 JetStream。
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

var _ events.Publisher = (*Publisher)(nil)

// NewPublisher 连接 NATS 并确保事件 stream 存在。
func NewPublisher(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("chunkdrop"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	return &Publisher{conn: conn, js: js, subject: cfg.Subject}, nil
}

// Publish 以 "<subject>.<type>" 发布事件，msg id 保证重复发布被去重。
func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = p.js.Publish(ctx, subjectFor(p.subject, ev), data, jetstream.WithMsgID(msgID(ev)))
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close 排空未发送的消息后关闭连接。
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func subjectFor(base string, ev events.Event) string {
	switch ev.Type {
	case events.TypeCompleted:
		return base + ".completed"
	case events.TypeAborted:
		return base + ".aborted"
	default:
		return base + ".unknown"
	}
}

func msgID(ev events.Event) string {
	return ev.ID.String() + ":" + string(ev.Type)
}
