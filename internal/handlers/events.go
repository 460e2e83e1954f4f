package handlers

import (
	"encoding/json"
	"log"
	"time"

	"engram/internal/models"
	"engram/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	eventReadDeadline  = 360 * time.Second
	eventWriteDeadline = 10 * time.Second
	eventBufferSize    = 100
)

// EventsHandler streams memory lifecycle events over WebSocket.
// Each connection subscribes to its owner's bus channel; events buffered
// while the owner was offline are replayed first.
type EventsHandler struct {
	events *services.EventBusService
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events *services.EventBusService) *EventsHandler {
	return &EventsHandler{events: events}
}

// eventFrame is one JSON message on the wire
type eventFrame struct {
	Type     string              `json:"type"`
	Event    *models.MemoryEvent `json:"event,omitempty"`
	Replayed bool                `json:"replayed,omitempty"`
	Content  string              `json:"content,omitempty"`
}

// clientFrame is what we accept from the client (heartbeats only)
type clientFrame struct {
	Type string `json:"type"`
}

// Handle handles a new WebSocket connection
func (h *EventsHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(eventWriteDeadline))
		c.Close()
		return
	}

	// Signals all goroutines to stop when the read loop exits
	done := make(chan struct{})
	writeChan := make(chan eventFrame, 64)

	events := h.events.Subscribe(userID, connID, eventBufferSize)
	defer func() {
		close(done)
		h.events.Unsubscribe(userID, connID)
		log.Printf("🔌 [EVENTS-WS] Disconnected: %s (user %s)", connID, userID)
	}()

	c.SetReadDeadline(time.Now().Add(eventReadDeadline))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(eventReadDeadline))
		return nil
	})

	go h.pingLoop(c, connID, done)
	go h.writeLoop(c, connID, writeChan, done)
	go h.forwardEvents(events, writeChan, done)

	log.Printf("🔗 [EVENTS-WS] Connected: %s (user %s)", connID, userID)
	writeChan <- eventFrame{Type: "connected", Content: "Event stream connected."}

	// Replay events that arrived while the owner had no live connection
	for _, ev := range h.events.DrainPending(userID) {
		ev := ev
		writeChan <- eventFrame{Type: "event", Event: &ev, Replayed: true}
	}

	h.readLoop(c, connID, writeChan, done)
}

// pingLoop sends periodic pings to keep the connection alive through proxies
func (h *EventsHandler) pingLoop(c *websocket.Conn, connID string, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(eventWriteDeadline)); err != nil {
				log.Printf("⚠️ [EVENTS-WS] Ping failed for %s: %v", connID, err)
				return
			}
		}
	}
}

// writeLoop is the single writer for data frames on this connection
func (h *EventsHandler) writeLoop(c *websocket.Conn, connID string, writeChan <-chan eventFrame, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [EVENTS-WS] Panic in writeLoop: %v", r)
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-writeChan:
			if err := c.WriteJSON(frame); err != nil {
				log.Printf("❌ [EVENTS-WS] Write error for %s: %v", connID, err)
				return
			}
		}
	}
}

// forwardEvents moves bus events into the connection's write channel
func (h *EventsHandler) forwardEvents(events <-chan models.MemoryEvent, writeChan chan<- eventFrame, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			ev := ev
			select {
			case writeChan <- eventFrame{Type: "event", Event: &ev}:
			case <-done:
				return
			}
		}
	}
}

// readLoop consumes client messages; only heartbeats are meaningful
func (h *EventsHandler) readLoop(c *websocket.Conn, connID string, writeChan chan<- eventFrame, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [EVENTS-WS] Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(eventReadDeadline))

		var frame clientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			select {
			case writeChan <- eventFrame{Type: "pong"}:
			case <-done:
				return
			}
		}
	}
}
