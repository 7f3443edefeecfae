package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Session describes what a connecting user is allowed to listen to.
type Session struct {
	Topics  []string
	CanJoin func(topic string) bool
}

// SessionResolver derives the session of the authenticated caller.
type SessionResolver func(c echo.Context) (Session, error)

// WebSocketHandler upgrades HTTP connections and pumps hub events to them.
type WebSocketHandler struct {
	hub      *Hub
	resolve  SessionResolver
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a handler. allowedOrigins empty accepts any origin.
func NewWebSocketHandler(hub *Hub, resolve SessionResolver, allowedOrigins []string, logger zerolog.Logger) *WebSocketHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &WebSocketHandler{
		hub:     hub,
		resolve: resolve,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect resolves the caller's session, upgrades the connection and
// joins the session's topics.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	session, err := wsh.resolve(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:      uuid.NewString(),
		Topics:  append([]string(nil), session.Topics...),
		Send:    make(chan []byte, sendBuffer),
		CanJoin: session.CanJoin,
		conn:    &gorillaConnAdapter{ws},
	}
	wsh.hub.Register(client)
	wsh.logger.Debug().Str("client", client.ID).Strs("topics", client.Topics).Msg("websocket connected")

	go wsh.writePump(client)
	go wsh.readPump(client)

	return nil
}

func (wsh *WebSocketHandler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *WebSocketHandler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			wsh.logger.Debug().Err(err).Str("client", client.ID).Msg("websocket write failed")
			return
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
