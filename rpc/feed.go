package rpc

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artgrid/artgrid/events"
)

const (
	feedWriteWait  = 10 * time.Second
	feedBufferSize = 256
)

// Feed fans committed engine events out to websocket subscribers. A
// client that cannot keep up is dropped rather than allowed to stall
// the rest.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// NewFeed creates a Feed and subscribes it to em.
func NewFeed(em *events.Emitter) *Feed {
	f := &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
	em.SubscribeAll(f.broadcast)
	return f
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &feedClient{
		conn: conn,
		send: make(chan events.Event, feedBufferSize),
	}
	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(client)
	go f.readLoop(client)
}

func (f *Feed) broadcast(ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		select {
		case client.send <- ev:
		default:
			// Backlog full: this client stopped reading.
			f.dropLocked(client)
		}
	}
}

func (f *Feed) drop(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(client)
}

func (f *Feed) dropLocked(client *feedClient) {
	if _, ok := f.clients[client]; !ok {
		return
	}
	delete(f.clients, client)
	close(client.send)
}

// writeLoop serializes queued events onto the connection.
func (f *Feed) writeLoop(client *feedClient) {
	defer client.conn.Close()
	for ev := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := client.conn.WriteJSON(ev); err != nil {
			f.drop(client)
			return
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (f *Feed) readLoop(client *feedClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			f.drop(client)
			return
		}
	}
}

// Close disconnects all subscribers.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		f.dropLocked(client)
	}
	log.Printf("[rpc] event feed closed")
}
