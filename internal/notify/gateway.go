package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// InboundHandler receives client-sent events that are not handled by the
// gateway itself (approval responses, auth completion callbacks).
type InboundHandler func(event string, data map[string]any)

// wsMessage is the wire format in both directions.
type wsMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Gateway upgrades websocket connections and bridges them onto the hub:
// clients join rooms to receive events and push callback events inbound.
type Gateway struct {
	hub      *Hub
	handler  InboundHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGateway creates a websocket gateway over the hub.
func NewGateway(hub *Hub, handler InboundHandler, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		hub:     hub,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client is served from arbitrary origins in
			// development; access control happens at the HTTP layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	go g.serve(conn)
}

func (g *Gateway) serve(conn *websocket.Conn) {
	var writeMu sync.Mutex
	unsubs := make(map[string]func())
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		conn.Close()
	}()

	send := func(ev Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(wsMessage{Event: ev.Name, Data: ev.Data}); err != nil {
			g.logger.Warn("websocket write failed", "room", ev.Room, "error", err)
		}
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case "email_tool_join_room":
			room, _ := msg.Data["room"].(string)
			if room == "" {
				continue
			}
			if _, joined := unsubs[room]; joined {
				continue
			}
			unsubs[room] = g.hub.Subscribe(room, send)
			g.logger.Info("client joined room", "room", room)
		default:
			if g.handler != nil {
				g.handler(msg.Event, msg.Data)
			}
		}
	}
}
