// Package stream wraps the NATS JetStream connection shared by the backfill
// queue and the correction-event consumer. Postgres stays the source of
// truth; streams only carry wakeup signals, so everything here tolerates the
// broker being briefly away.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/config"
)

// Conn is a managed NATS connection with a JetStream context.
type Conn struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.NATSConfig

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
}

// Connect dials NATS and initializes JetStream.
func Connect(cfg config.NATSConfig) (*Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("nats disconnected", zap.String("component", "stream"), zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("nats reconnected", zap.String("component", "stream"), zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "stream: connect %s", cfg.URL)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, eris.Wrap(err, "stream: init jetstream")
	}

	return &Conn{nc: nc, js: js, cfg: cfg}, nil
}

// EnsureStream creates or updates a work-queue style stream for the given
// subject prefix.
func (c *Conn) EnsureStream(ctx context.Context, name, subjectPrefix string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return eris.Wrapf(err, "stream: ensure stream %s", name)
	}
	return nil
}

// Publish writes one message to a subject, acknowledged by the stream.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return eris.Wrapf(err, "stream: publish %s", subject)
	}
	return nil
}

// Consume attaches a durable consumer to a stream and invokes handler for
// each message. The handler's error decides the ack: nil acks, anything else
// naks for redelivery.
func (c *Conn) Consume(ctx context.Context, streamName, durable, filterSubject string, handler func(ctx context.Context, data []byte) error) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
	})
	if err != nil {
		return eris.Wrapf(err, "stream: create consumer %s on %s", durable, streamName)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(context.Background(), msg.Data()); err != nil {
			zap.L().Warn("message handler failed, requesting redelivery",
				zap.String("component", "stream"),
				zap.String("subject", msg.Subject()),
				zap.Error(err),
			)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return eris.Wrapf(err, "stream: consume %s", durable)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cc)
	c.mu.Unlock()
	return nil
}

// Close stops all consumers and drains the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	for _, cc := range c.consumers {
		cc.Stop()
	}
	c.consumers = nil
	c.mu.Unlock()

	if err := c.nc.Drain(); err != nil {
		zap.L().Warn("nats drain failed", zap.String("component", "stream"), zap.Error(err))
	}
}
