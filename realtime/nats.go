// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/logging"
)

// SubjectPrefix roots every NATS subject the service publishes on.
const SubjectPrefix = "weekcal"

// Subject returns "weekcal.<systemID>.<eventType>".
func Subject(systemID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, systemID, eventType)
}

// NATSPublisher mirrors events to NATS so other services can follow
// device and timer activity.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// ConnectNATS dials url with reconnect logging wired to log.
func ConnectNATS(url string, log *logging.Logger) (*nats.Conn, error) {
	l := log.Named("nats")
	nc, err := nats.Connect(url,
		nats.Name("weekly-calendar"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn(context.Background(), "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}
	if err := p.nc.Publish(Subject(e.SystemID, e.Type), data); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.Type, err)
	}
	return nil
}

// MultiPublisher sends every event to each of its publishers and joins
// their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
