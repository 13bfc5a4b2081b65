// Package watch is the display side: it asks the phone for weather when the
// link comes up, applies replicated changes, and redraws on a minute cadence
// while visible and interactive.
package watch

import (
	"sync/atomic"

	"github.com/mbocsi/wearlink/weather"
)

// DefaultConditions are shown until the first snapshot arrives.
var DefaultConditions = weather.Snapshot{ConditionCode: 0, MaxTemp: 11, MinTemp: 22}

// HeldState is the current conditions. Readers always see a whole snapshot.
type HeldState struct {
	current atomic.Pointer[weather.Snapshot]
}

func NewHeldState() *HeldState {
	h := &HeldState{}
	h.Store(DefaultConditions)
	return h
}

func (h *HeldState) Load() weather.Snapshot {
	return *h.current.Load()
}

func (h *HeldState) Store(s weather.Snapshot) {
	h.current.Store(&s)
}
