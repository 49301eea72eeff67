package broadcast

import (
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Multi reparte cada evento a varios broadcasters, en orden.
type Multi []ports.Broadcaster

// Broadcast implementa ports.Broadcaster.
func (m Multi) Broadcast(evt domain.Event) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(evt)
		}
	}
}
