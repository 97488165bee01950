package services

import (
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

// Publisher fans an event out to the subscribers of its room.
type Publisher interface {
	Publish(ev models.Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(models.Event) {}

// publish builds and sends an event, logging payload encoding failures.
func publish(pub Publisher, log zerolog.Logger, name, room string, payload interface{}) {
	if pub == nil {
		return
	}
	ev, err := models.NewEvent(name, room, payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Str("room", room).Msg("Failed to build event")
		return
	}
	pub.Publish(ev)
}
