package watch

import (
	"log/slog"
	"time"

	"github.com/mbocsi/wearlink/link"
)

// Display shows rendered frames.
type Display interface {
	Show(frame string)
}

type Options struct {
	Hour24 bool
	// Zone returns the display time zone; it is re-read on becoming visible
	// and on every time-zone change. Defaults to time.Local.
	Zone func() *time.Location
}

// Engine is the watch face. Its On* methods may be called from any
// goroutine; the work runs on the session loop.
type Engine struct {
	loop      *link.Loop
	session   *link.Session
	display   Display
	opts      Options
	logger    *slog.Logger
	state     *HeldState
	emitter   *RequestEmitter
	listener  *ChangeListener
	scheduler *RenderScheduler

	// loop-owned
	zone               *time.Location
	visible            bool
	ambient            bool
	lowBit             bool
	zoneReceiver       bool
	drawPending        bool
	connectionListener link.ListenerID
}

func NewEngine(session *link.Session, display Display, opts Options) *Engine {
	if opts.Zone == nil {
		opts.Zone = func() *time.Location { return time.Local }
	}
	e := &Engine{
		loop:    session.Loop(),
		session: session,
		display: display,
		opts:    opts,
		logger:  slog.Default().With("component", "engine"),
		state:   NewHeldState(),
		zone:    opts.Zone(),
	}
	e.emitter = NewRequestEmitter(session)
	e.listener = NewChangeListener(session, e.state, e.invalidate)
	e.scheduler = NewRenderScheduler(e.loop, e.invalidate)
	return e
}

// Start hooks the engine to the session. Call once before any event.
func (e *Engine) Start() {
	e.connectionListener = e.session.AddStateListener(e.onSessionState)
	e.emitter.Start()
}

// Stop hides the face and detaches from the session.
func (e *Engine) Stop() {
	e.OnVisibilityChanged(false)
	e.loop.Post(func() {
		e.emitter.Stop()
		e.session.RemoveStateListener(e.connectionListener)
	})
}

func (e *Engine) State() *HeldState {
	return e.state
}

func (e *Engine) OnVisibilityChanged(visible bool) {
	e.loop.Post(func() {
		if visible == e.visible {
			return
		}
		e.visible = visible
		if visible {
			e.zoneReceiver = true
			e.zone = e.opts.Zone()
			e.session.Open()
			e.invalidate()
		} else {
			e.zoneReceiver = false
			e.listener.Reset()
			e.session.Close()
		}
		e.logger.Debug("Visibility changed", "visible", visible)
		e.scheduler.SetVisible(visible)
	})
}

func (e *Engine) OnAmbientModeChanged(ambient bool) {
	e.loop.Post(func() {
		e.ambient = ambient
		e.invalidate()
		e.scheduler.SetAmbient(ambient)
	})
}

func (e *Engine) OnPropertiesChanged(lowBitAmbient bool) {
	e.loop.Post(func() { e.lowBit = lowBitAmbient })
}

// OnTimeTick is the platform's own per-minute tick.
func (e *Engine) OnTimeTick() {
	e.loop.Post(e.invalidate)
}

// OnTimeZoneChanged re-reads the zone and redraws. It is ignored while the
// face is hidden; becoming visible re-reads the zone anyway.
func (e *Engine) OnTimeZoneChanged() {
	e.loop.Post(func() {
		if !e.zoneReceiver {
			return
		}
		e.zone = e.opts.Zone()
		e.invalidate()
	})
}

func (e *Engine) onSessionState(s link.State) {
	switch s {
	case link.Connected:
		if e.visible {
			e.listener.Register()
		}
	case link.Disconnected, link.Failed:
		e.listener.Reset()
	}
}

// invalidate coalesces redraw requests into one draw per loop turn.
func (e *Engine) invalidate() {
	if e.drawPending {
		return
	}
	e.drawPending = true
	e.loop.Post(e.draw)
}

func (e *Engine) draw() {
	e.drawPending = false
	if !e.visible {
		return
	}
	e.display.Show(Render(e.frame()))
}

func (e *Engine) frame() Frame {
	return Frame{
		Now:     e.loop.Now().In(e.zone),
		Hour24:  e.opts.Hour24,
		Ambient: e.ambient,
		LowBit:  e.lowBit,
		Weather: e.state.Load(),
	}
}
