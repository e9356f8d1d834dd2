package session

import (
	"sync"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/collab-realtime/events"
)

// Publisher emits collaboration domain events. Implementations must not
// block the caller on delivery.
type Publisher interface {
	ParticipantJoined(evt events.ParticipantJoinedEvent)
	ParticipantLeft(evt events.ParticipantLeftEvent)
	MessageAccepted(evt events.MessageAcceptedEvent)
	Alert(evt events.AlertEvent)
}

// busPublisher publishes events on the mono EventBus once one is attached.
type busPublisher struct {
	mu     sync.RWMutex
	bus    mono.EventBus
	logger types.Logger
}

func (p *busPublisher) setBus(bus mono.EventBus) {
	p.mu.Lock()
	p.bus = bus
	p.mu.Unlock()
}

func (p *busPublisher) eventBus() mono.EventBus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bus
}

func (p *busPublisher) ParticipantJoined(evt events.ParticipantJoinedEvent) {
	if bus := p.eventBus(); bus != nil {
		if err := events.ParticipantJoinedV1.Publish(bus, evt, nil); err != nil {
			p.logger.Warn("Failed to publish ParticipantJoined event", "error", err)
		}
	}
}

func (p *busPublisher) ParticipantLeft(evt events.ParticipantLeftEvent) {
	if bus := p.eventBus(); bus != nil {
		if err := events.ParticipantLeftV1.Publish(bus, evt, nil); err != nil {
			p.logger.Warn("Failed to publish ParticipantLeft event", "error", err)
		}
	}
}

func (p *busPublisher) MessageAccepted(evt events.MessageAcceptedEvent) {
	if bus := p.eventBus(); bus != nil {
		if err := events.MessageAcceptedV1.Publish(bus, evt, nil); err != nil {
			p.logger.Warn("Failed to publish MessageAccepted event", "error", err)
		}
	}
}

func (p *busPublisher) Alert(evt events.AlertEvent) {
	if bus := p.eventBus(); bus != nil {
		if err := events.AlertV1.Publish(bus, evt, nil); err != nil {
			p.logger.Warn("Failed to publish Alert event", "kind", evt.Kind, "error", err)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) ParticipantJoined(events.ParticipantJoinedEvent) {}
func (nopPublisher) ParticipantLeft(events.ParticipantLeftEvent)     {}
func (nopPublisher) MessageAccepted(events.MessageAcceptedEvent)     {}
func (nopPublisher) Alert(events.AlertEvent)                         {}
