// Package websocket delivers queue events to live browser sessions. Clients
// are grouped by topic; a doctor's sessions share that doctor's topic.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/events"
)

const sendBuffer = 256

// ClientMessage is an inbound message from a connected session.
type ClientMessage struct {
	Action   string `json:"action"`
	DoctorID string `json:"doctorId"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected session or in-process subscriber.
type Client struct {
	ID      string
	Topics  []string
	Send    chan []byte
	CanJoin func(topic string) bool
	conn    Conn
}

// Hub tracks clients and their topics. It implements events.Broker for a
// single process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Join adds topic to a registered client. It reports false when the client
// may not join that topic.
func (h *Hub) Join(client *Client, topic string) bool {
	if client.CanJoin == nil || !client.CanJoin(topic) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return false
	}
	for _, t := range client.Topics {
		if t == topic {
			return true
		}
	}
	h.addLocked(topic, client)
	client.Topics = append(client.Topics, topic)
	return true
}

// Leave removes topic from a registered client.
func (h *Hub) Leave(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(topic, client)
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if t != topic {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles join-doctor and leave-doctor requests.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	id, err := uuid.Parse(msg.DoctorID)
	if err != nil {
		return
	}
	topic := events.DoctorTopic(id)
	switch msg.Action {
	case "join-doctor":
		if !h.Join(client, topic) {
			h.logger.Debug().Str("client", client.ID).Str("topic", topic).Msg("join refused")
		}
	case "leave-doctor":
		h.Leave(client, topic)
	}
}

// Broadcast sends an event to the clients subscribed to topic. Clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("client", client.ID).Str("topic", topic).Msg("send buffer full, event dropped")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// Subscribe registers an in-process subscriber on topic. The returned
// channel is closed after ctx is done.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan events.Event, error) {
	client := &Client{
		ID:     uuid.NewString(),
		Topics: []string{topic},
		Send:   make(chan []byte, sendBuffer),
	}
	h.Register(client)

	out := make(chan events.Event, sendBuffer)
	go func() {
		<-ctx.Done()
		h.Unregister(client)
	}()
	go func() {
		defer close(out)
		for data := range client.Send {
			var ev events.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	return out, nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
