package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	clientBuffer   = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers are served from anywhere, same as CORS *
	},
}

// Client is one connected websocket viewer.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub pushes new frame names to websocket viewers and to in-process
// subscribers such as the MJPEG stream.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	// latest names the newest stored frame, "" when there is none.
	latest func() string

	mu          sync.Mutex
	subscribers map[chan frame.Record]struct{}
}

func NewHub(latest func() string) *Hub {
	if latest == nil {
		latest = func() string { return "" }
	}
	return &Hub{
		latest:      latest,
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan []byte, clientBuffer),
		done:        make(chan struct{}),
		subscribers: make(map[chan frame.Record]struct{}),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			close(client.Send)
			delete(h.clients, client)
		}
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			// frames stored from here on reach the client through broadcast
			if name := h.latest(); name != "" {
				if message, err := latestMessage(name); err == nil {
					client.Send <- message
				}
			}
			log.WithField("client", client.ID).Debug("Viewer connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.WithField("client", client.ID).Debug("Viewer disconnected")
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					log.WithField("client", client.ID).Warn("Viewer too slow, dropping")
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// FrameStored announces rec to every viewer and subscriber.
func (h *Hub) FrameStored(ctx context.Context, rec frame.Record) error {
	message, err := latestMessage(rec.Name)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub <- rec:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of stored records. Slow readers miss
// records rather than block the hub.
func (h *Hub) Subscribe() (<-chan frame.Record, func()) {
	ch := make(chan frame.Record, 2)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

func latestMessage(name string) ([]byte, error) {
	if name == "" {
		return json.Marshal(struct{}{})
	}
	return json.Marshal(map[string]string{"image_name": name})
}

// ServeWS upgrades the request and registers the viewer. Once registered
// the viewer is sent the current latest name, if any.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, clientBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

func (h *Hub) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead only services control frames; viewers have nothing to say.
func (h *Hub) handleClientRead(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("client", client.ID).Warn("Unexpected WebSocket close")
			}
			return
		}
	}
}
