package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"coscribe/internal/channel"
	"coscribe/internal/collab"
	"coscribe/internal/events"
	"coscribe/internal/store"
)

const (
	hubWriteTimeout = 10 * time.Second
	clientBuffer    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hubSet holds one hub per open document.
type hubSet struct {
	store  store.Store
	audit  events.Writer
	logger Logger

	mu   sync.Mutex
	hubs map[string]*hub
}

func newHubSet(s store.Store, logger Logger) *hubSet {
	return &hubSet{store: s, audit: events.Writer{DB: s.DB}, logger: logger, hubs: map[string]*hub{}}
}

func (hs *hubSet) get(documentID string) *hub {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.hubs[documentID]
	if !ok {
		h = &hub{
			documentID: documentID,
			store:      hs.store,
			audit:      hs.audit,
			logger:     hs.logger,
			clients:    map[*hubClient]bool{},
		}
		hs.hubs[documentID] = h
	}
	return h
}

func (hs *hubSet) serveWS(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "id")
	if documentID == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hs.logger.Printf("upgrade %s: %v", documentID, err)
		return
	}
	hs.get(documentID).serve(conn)
}

// hub relays envelopes between every replica of one document. The relay
// does not decode CRDT payloads; it persists the complete_state that
// document-update and force-save events already carry.
type hub struct {
	documentID string
	store      store.Store
	audit      events.Writer
	logger     Logger

	mu      sync.Mutex
	clients map[*hubClient]bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (h *hub) serve(conn *websocket.Conn) {
	client := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writeLoop()
	h.readLoop(client)
}

func (h *hub) readLoop(client *hubClient) {
	defer h.drop(client)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handle(data)
		h.broadcast(client, data)
	}
}

func (h *hub) handle(data []byte) {
	var env channel.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Printf("hub %s: malformed envelope dropped: %v", h.documentID, err)
		return
	}
	var userID string
	switch env.Event {
	case channel.EventDocumentUpdate:
		var p channel.DocumentUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		userID = p.UserID
		if len(p.CompleteState) > 0 {
			h.persist(p.CompleteState, p.RenderedText, p.UserID)
		}
	case channel.EventForceSave:
		var p channel.ForceSave
		if err := json.Unmarshal(env.Payload, &p); err != nil || len(p.CompleteState) == 0 {
			return
		}
		h.persist(p.CompleteState, p.RenderedText, "")
	case channel.EventPresenceUpdate:
		var p channel.PresenceUpdate
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			userID = p.UserID
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.audit.Append(ctx, h.documentID, env.Event, userID, env.Payload); err != nil {
		h.logger.Printf("hub %s: audit: %v", h.documentID, err)
	}
}

func (h *hub) persist(state []byte, rendered, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	err := h.store.UpsertState(ctx, store.DocumentState{
		ID:            h.documentID,
		CompleteState: state,
		RenderedText:  rendered,
		UpdatedBy:     userID,
		UpdatedAt:     now,
	})
	if err != nil {
		h.logger.Printf("hub %s: persist: %v", h.documentID, err)
		return
	}
	if userID != "" {
		change := collab.NewDocumentChange(userID, collab.ChangeUpdate, now)
		if err := h.store.AppendChange(ctx, h.documentID, change); err != nil {
			h.logger.Printf("hub %s: journal: %v", h.documentID, err)
		}
	}
}

// broadcast fans the message out to every client except the sender.
func (h *hub) broadcast(from *hubClient, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client == from {
			continue
		}
		select {
		case client.send <- data:
		default:
			// slow consumer; it will resync via the staleness check
			h.logger.Printf("hub %s: dropping message for slow client", h.documentID)
		}
	}
}

func (h *hub) drop(client *hubClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

func (c *hubClient) writeLoop() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(hubWriteTimeout))
}
