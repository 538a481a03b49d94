package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultSubjectPrefix = "straightup"
	natsReconnectWait    = 2 * time.Second
	natsMaxReconnects    = 60
)

// natsConn is the subset of *nats.Conn the publisher uses
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes msgpack-encoded messages on <prefix>.<kind>.
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *logrus.Logger
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg Config, logger *logrus.Logger) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name(clientName(cfg)),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(natsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS connection lost")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	logger.WithField("url", url).Info("Connected to NATS")
	return newNATSPublisher(nc, cfg.Prefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *logrus.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject a message of kind is published on.
func (p *NATSPublisher) Subject(kind string) string {
	return p.prefix + "." + kind
}

func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	subject := p.Subject(msg.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.logger.WithFields(logrus.Fields{
		"subject": subject,
		"bytes":   len(data),
	}).Debug("Published to NATS")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func clientName(cfg Config) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "straightup"
}
