package realtime

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"teamsync-server/internal/hub"
	"teamsync-server/internal/syncer"
)

// Frame is what a device receives on its update socket.
type Frame struct {
	Type  string       `json:"type"`
	Event string       `json:"event"`
	Body  syncer.Event `json:"body"`
}

// HubDeliverer writes events to the sockets of their recipients, except the
// device that produced them.
type HubDeliverer struct {
	Hub *hub.Hub
}

func (d HubDeliverer) Deliver(evt syncer.Event) {
	if len(evt.Recipients) == 0 {
		return
	}
	out, err := json.Marshal(Frame{Type: "update", Event: evt.Type, Body: evt})
	if err != nil {
		log.Warn().Err(err).Str("event", evt.Type).Msg("realtime: encode frame")
		return
	}
	d.Hub.Fanout(evt.Recipients, evt.OriginUser, evt.OriginDevice, out)
}
