package ports

import "github.com/alejandrodnm/updown/internal/domain"

// Broadcaster publica eventos del engine hacia las capas de presentación.
// Fire-and-forget: nunca bloquea al scheduler.
type Broadcaster interface {
	Broadcast(evt domain.Event)
}
