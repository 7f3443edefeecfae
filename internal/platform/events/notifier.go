package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// Notifier publishes events in the background. Failures are logged and
// dropped; callers never wait on delivery.
type Notifier struct {
	pub    Publisher
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewNotifier(pub Publisher, logger zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger.With().Str("component", "notifier").Logger()}
}

func resourceTypeOf(typ string) string {
	if typ == TypeLabTestUpdated {
		return "LabTest"
	}
	return "Appointment"
}

// Notify sends an event of type typ about resourceID to topic.
func (n *Notifier) Notify(ctx context.Context, typ, topic, resourceID string, payload any) {
	if n == nil || n.pub == nil {
		return
	}
	ev, err := New(typ, topic, resourceTypeOf(typ), resourceID, payload)
	if err != nil {
		n.logger.Debug().Err(err).Str("type", typ).Msg("event dropped")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.logger.Debug().Err(err).Str("type", ev.Type).Str("topic", ev.Topic).Msg("event dropped")
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
