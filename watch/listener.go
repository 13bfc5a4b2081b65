package watch

import (
	"log/slog"

	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
	"github.com/mbocsi/wearlink/weather"
)

// ChangeListener applies /weather changes to the held state. Register and
// Reset run on the session loop.
type ChangeListener struct {
	session    *link.Session
	state      *HeldState
	invalidate func()
	logger     *slog.Logger

	id         link.ListenerID
	registered bool
}

func NewChangeListener(session *link.Session, state *HeldState, invalidate func()) *ChangeListener {
	return &ChangeListener{
		session:    session,
		state:      state,
		invalidate: invalidate,
		logger:     slog.Default().With("component", "listener"),
	}
}

func (l *ChangeListener) Register() {
	if l.registered {
		return
	}
	l.registered = true
	id, res := l.session.AddDataListener(l.HandleEvents)
	l.id = id
	res.OnComplete(l.session.Loop(), func(_ struct{}, err error) {
		if err != nil {
			l.logger.Warn("Failed to subscribe to weather changes", "error", err)
			if l.id == id {
				l.registered = false
			}
		}
	})
}

// Reset forgets the registration. Sessions drop data listeners themselves
// when they close or lose the connection.
func (l *ChangeListener) Reset() {
	l.registered = false
}

// HandleEvents applies every change at /weather in order. Deletions and
// other paths are ignored.
func (l *ChangeListener) HandleEvents(events []proto.DataEvent) {
	for _, ev := range events {
		if ev.Type != proto.DataChanged || ev.Path != weather.PathWeather {
			continue
		}
		snap := weather.SnapshotFromDataMap(ev.Data)
		l.state.Store(snap)
		l.logger.Debug("Weather updated", "weather_id", snap.ConditionCode, "max", snap.MaxTemp, "min", snap.MinTemp)
		l.invalidate()
	}
}
