package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/observability"
)

// StreamName is the JetStream stream carrying settlement and vault events.
const StreamName = "DOLOMITE_MODULE_EVENTS"

const subjectPrefix = "dolomite.modules.events"

// Publisher drains recorded event envelopes onto NATS for downstream
// consumers. Publishing happens after the ledger state change committed, so a
// lost publish never implies a lost state change; consumers needing a full
// history replay the persisted journal instead.
type Publisher struct {
	js      jetstream.JetStream
	in      <-chan event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, in <-chan event.Envelope, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		in:      in,
		log:     observability.NewLogger("event-publisher"),
		metrics: metrics,
	}
}

// Run drains the envelope channel until the context ends or the channel
// closes. Publish failures are logged and counted, not fatal.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-p.in:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Str("type", string(env.Type)).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, env.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
