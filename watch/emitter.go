package watch

import (
	"log/slog"

	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
	"github.com/mbocsi/wearlink/weather"
)

// RequestEmitter sends an empty /weather-req to every peer each time the
// session becomes connected. Failed sends are logged and not retried.
type RequestEmitter struct {
	session *link.Session
	logger  *slog.Logger
	id      link.ListenerID
	started bool
}

func NewRequestEmitter(session *link.Session) *RequestEmitter {
	return &RequestEmitter{
		session: session,
		logger:  slog.Default().With("component", "emitter"),
	}
}

func (e *RequestEmitter) Start() {
	if e.started {
		return
	}
	e.started = true
	e.id = e.session.AddStateListener(func(s link.State) {
		if s == link.Connected {
			e.Emit()
		}
	})
}

func (e *RequestEmitter) Stop() {
	if !e.started {
		return
	}
	e.started = false
	e.session.RemoveStateListener(e.id)
}

// Emit enumerates peers and fans out one request per peer.
func (e *RequestEmitter) Emit() {
	loop := e.session.Loop()
	e.session.ConnectedNodes().OnComplete(loop, func(nodes []proto.Node, err error) {
		if err != nil {
			e.logger.Warn("Failed to list connected nodes", "error", err)
			return
		}
		for _, node := range nodes {
			e.session.SendMessage(node.ID, weather.PathWeatherRequest, nil).OnComplete(loop, func(_ struct{}, err error) {
				if err != nil {
					e.logger.Warn("Weather request failed", "node", node.ID, "error", err)
					return
				}
				e.logger.Debug("Weather request sent", "node", node.ID)
			})
		}
	})
}
