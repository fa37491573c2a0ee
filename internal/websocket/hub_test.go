package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
)

func testHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan []byte, 10),
		register:   make(chan *Client, 1),
		unregister: make(chan *Client, 1),
	}
}

func TestHubSendToOperator(t *testing.T) {
	h := testHub()

	id1 := uuid.New()
	id2 := uuid.New()

	// Use actual Client struct but only use the send channel for assertion
	c1 := &Client{operatorID: id1, send: make(chan []byte, 4)}
	c2 := &Client{operatorID: id2, send: make(chan []byte, 4)}

	h.clients[id1] = c1
	h.clients[id2] = c2

	msg := models.FeedMessage{Event: models.FeedAlert, Payload: "store unavailable"}
	if err := h.SendToOperator(id1, msg); err != nil {
		t.Fatalf("SendToOperator error: %v", err)
	}

	select {
	case b := <-c1.send:
		var got models.FeedMessage
		json.Unmarshal(b, &got)
		if got.Event != models.FeedAlert {
			t.Fatalf("unexpected frame: %+v", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timed out waiting for frame to operator 1")
	}

	select {
	case b := <-c2.send:
		t.Fatalf("operator 2 should not have received %s", b)
	default:
	}
}

func TestHubBroadcastReachesAllConsoles(t *testing.T) {
	h := testHub()
	go h.Run()

	id1 := uuid.New()
	id2 := uuid.New()
	c1 := &Client{operatorID: id1, send: make(chan []byte, 4)}
	c2 := &Client{operatorID: id2, send: make(chan []byte, 4)}
	h.mu.Lock()
	h.clients[id1] = c1
	h.clients[id2] = c2
	h.mu.Unlock()

	msg := models.FeedMessage{Event: models.FeedTierChange, Payload: map[string]string{"to": "banned"}}
	if err := h.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}

	for _, c := range []*Client{c1, c2} {
		select {
		case b := <-c.send:
			var got models.FeedMessage
			json.Unmarshal(b, &got)
			if got.Event != models.FeedTierChange {
				t.Fatalf("unexpected frame: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for broadcast frame")
		}
	}
}
