package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const instanceHeader = "Tavern-Instance"

// NATSBusConfig holds configuration for the NATS bus
type NATSBusConfig struct {
	URL           string
	SubjectPrefix string // events for map m go to <prefix>.<m>
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSBusConfig returns default NATS bus configuration
func DefaultNATSBusConfig() NATSBusConfig {
	return NATSBusConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tavern.maps",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus fans events out across relay instances with core NATS publish/subscribe.
type NATSBus struct {
	nc       *nats.Conn
	config   NATSBusConfig
	instance string
}

// NewNATSBus connects to NATS
func NewNATSBus(config NATSBusConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("tavern-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSBus{
		nc:       nc,
		config:   config,
		instance: uuid.New().String(),
	}, nil
}

// Subject returns the subject events for mapID are published on.
func (b *NATSBus) Subject(mapID string) string {
	return b.config.SubjectPrefix + "." + mapID
}

func (b *NATSBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: b.Subject(event.MapID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(instanceHeader, b.instance)
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(handler BusHandler) (func(), error) {
	sub, err := b.nc.Subscribe(b.config.SubjectPrefix+".*", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode relay event")
			return
		}
		if event.MapID == "" {
			event.MapID = strings.TrimPrefix(msg.Subject, b.config.SubjectPrefix+".")
		}
		handler(event, msg.Header.Get(instanceHeader) == b.instance)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to relay events: %w", err)
	}

	log.Info().Str("subject", sub.Subject).Msg("subscribed to relay events")
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe relay events")
		}
	}, nil
}

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
