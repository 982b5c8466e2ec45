// Package notify delivers ledger events to external subscribers.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/meridian-dex/perp/pkg/perp"
)

// Publisher forwards ledger events to NATS as JSON, one subject per event
// type under a common prefix (e.g. perp.events.position_opened).
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewPublisher connects to NATS and returns a Publisher. prefix defaults
// to "perp.events" when empty.
func NewPublisher(url, prefix string, log *zap.Logger) (*Publisher, error) {
	if prefix == "" {
		prefix = "perp.events"
	}
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{nc: nc, prefix: prefix, log: log}, nil
}

// Publish implements perp.Notifier. Delivery is fire-and-forget: the
// ledger must never stall on a slow subscriber, so publish errors are
// logged and dropped.
func (p *Publisher) Publish(ev perp.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal event", zap.Error(err), zap.String("type", string(ev.Type)))
		return
	}
	subject := fmt.Sprintf("%s.%s", p.prefix, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Error("publish event", zap.Error(err), zap.String("subject", subject))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
