package watch

import (
	"time"

	"github.com/mbocsi/wearlink/link"
)

const interactiveUpdateRate = time.Minute

// RenderScheduler keeps at most one redraw timer armed, firing on wall-clock
// minute boundaries while the face is visible and interactive. It is owned
// by the loop.
type RenderScheduler struct {
	loop   *link.Loop
	redraw func()

	visible bool
	ambient bool

	timer      link.Timer
	gen        uint64
	nextFireAt time.Time
}

func NewRenderScheduler(loop *link.Loop, redraw func()) *RenderScheduler {
	return &RenderScheduler{loop: loop, redraw: redraw}
}

func (s *RenderScheduler) SetVisible(visible bool) {
	s.visible = visible
	s.UpdateTimer()
}

func (s *RenderScheduler) SetAmbient(ambient bool) {
	s.ambient = ambient
	s.UpdateTimer()
}

func (s *RenderScheduler) ShouldRun() bool {
	return s.visible && !s.ambient
}

// UpdateTimer cancels any armed timer, then arms one if the face should tick.
func (s *RenderScheduler) UpdateTimer() {
	s.cancel()
	if s.ShouldRun() {
		s.schedule()
	}
}

// NextFireAt reports the armed deadline; ok is false when idle.
func (s *RenderScheduler) NextFireAt() (at time.Time, ok bool) {
	return s.nextFireAt, s.timer != nil
}

func (s *RenderScheduler) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// a fire already posted to the loop carries the old generation
	s.gen++
	s.nextFireAt = time.Time{}
}

func (s *RenderScheduler) schedule() {
	now := s.loop.Now()
	delay := untilNextTick(now)
	gen := s.gen
	s.nextFireAt = now.Add(delay)
	s.timer = s.loop.AfterFunc(delay, func() { s.fire(gen) })
}

func (s *RenderScheduler) fire(gen uint64) {
	if gen != s.gen {
		return
	}
	s.timer = nil
	s.nextFireAt = time.Time{}
	s.redraw()
	if s.ShouldRun() {
		s.schedule()
	}
}

// untilNextTick is the delay to the next minute boundary, never zero.
func untilNextTick(now time.Time) time.Duration {
	rate := interactiveUpdateRate.Milliseconds()
	return time.Duration(rate-now.UnixMilli()%rate) * time.Millisecond
}
