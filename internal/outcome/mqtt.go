package outcome

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/huddle/internal/config"
)

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTSink publishes each record as JSON to <prefix>/outcomes.
type MQTTSink struct {
	topic  string
	pub    publisher
	cm     *autopaho.ConnectionManager
	logger *slog.Logger
}

// DialMQTT connects to the broker in cfg and returns a sink. autopaho
// keeps reconnecting in the background after the first attempt, so a
// broker that is down at start-up does not fail the call.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "outcome_mqtt")

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt connected to broker", "broker", cfg.Broker)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	s := newMQTTSink(cfg.TopicPrefix, cm, logger)
	s.cm = cm
	return s, nil
}

func newMQTTSink(prefix string, pub publisher, logger *slog.Logger) *MQTTSink {
	return &MQTTSink{
		topic:  prefix + "/outcomes",
		pub:    pub,
		logger: logger,
	}
}

// Topic returns the topic records are published to.
func (s *MQTTSink) Topic() string {
	return s.topic
}

// Write implements Sink.
func (s *MQTTSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if _, err := s.pub.Publish(ctx, &paho.Publish{
		Topic:   s.topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close(ctx context.Context) error {
	if s.cm == nil {
		return nil
	}
	return s.cm.Disconnect(ctx)
}
