// Package events defines the queue notifications pushed to doctor sessions
// and the publish/subscribe contract the rest of the service depends on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeNewAppointment = "newAppointment"
	TypeQueueUpdated   = "queueUpdated"
	TypeLabTestUpdated = "labTestUpdated"
)

// Event is a notification delivered to subscribers of Topic. Data is
// advisory; receivers re-read state instead of trusting it.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber returns a stream of events for topic that is closed once ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
}

type Broker interface {
	Publisher
	Subscriber
}

// DoctorTopic is the channel a doctor's live sessions listen on.
func DoctorTopic(doctorID uuid.UUID) string {
	return "doctor/" + doctorID.String()
}

// New builds an event with payload encoded as Data.
func New(typ, topic, resourceType, resourceID string, payload any) (Event, error) {
	ev := Event{
		Type:         typ,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		ev.Data = data
	}
	return ev, nil
}
