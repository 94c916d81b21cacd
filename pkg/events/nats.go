package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/srand/fgmachine/pkg/log"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	IsClosed() bool
	Drain() error
	Close()
}

type natsPublisher struct {
	nc      natsConn
	subject string
}

// NewNatsPublisher connects to the NATS server at url. Events are
// published on <subject>.<experiment>.<kind>.
func NewNatsPublisher(url, subject string) (Publisher, error) {
	opts := []nats.Option{
		nats.Name("fgmachine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected:", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected to", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	log.Info("Publishing experiment events to", url)
	return newNatsPublisher(nc, subject), nil
}

func newNatsPublisher(nc natsConn, subject string) *natsPublisher {
	return &natsPublisher{nc: nc, subject: strings.TrimSuffix(subject, ".")}
}

// Subject returns the subject an event is published on.
func (p *natsPublisher) Subject(event *Event) string {
	// Subject tokens must not contain separators or wildcards.
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(event.Experiment)
	return fmt.Sprintf("%s.%s.%s", p.subject, token, event.Kind)
}

func (p *natsPublisher) Publish(ctx context.Context, event *Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(event), data)
}

func (p *natsPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
