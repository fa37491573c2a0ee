package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/warden/backend/internal/models"
)

// EventSink ingests raw platform events. Satisfied by engine.Engine.
type EventSink interface {
	Handle(raw models.RawEvent)
}

// EventPublisher fans an event out on the ingest channel so every
// subscribed engine instance sees it. Satisfied by cache.RedisClient.
type EventPublisher interface {
	PublishEvent(channel string, event *models.RawEvent) error
}

// EventHandler is the HTTP ingress for platform adapters that push
// events over REST instead of the pub/sub channel.
type EventHandler struct {
	engine    EventSink
	publisher EventPublisher
	channel   string
}

func NewEventHandler(engine EventSink, publisher EventPublisher, channel string) *EventHandler {
	return &EventHandler{
		engine:    engine,
		publisher: publisher,
		channel:   channel,
	}
}

// Ingest accepts one raw platform event. With a publisher configured the
// event goes onto the ingest channel; otherwise it is handed to the
// local engine directly.
func (h *EventHandler) Ingest(c *gin.Context) {
	var raw models.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid event payload")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishEvent(h.channel, &raw); err != nil {
			ErrorResponse(c, http.StatusInternalServerError, "Failed to publish event")
			return
		}
	} else {
		h.engine.Handle(raw)
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
