package watch

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mbocsi/wearlink/weather"
)

const faceWidth = 24

// Frame is everything a single draw depends on.
type Frame struct {
	Now     time.Time // already in the display zone
	Hour24  bool
	Ambient bool
	LowBit  bool
	Weather weather.Snapshot
}

// Render draws f as a text face: time, date, divider, then icon with high and
// low temperatures. Ambient mode drops the divider; low-bit ambient also
// drops the degree sign.
func Render(f Frame) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(center(s))
		b.WriteByte('\n')
	}

	line(clockText(f.Now, f.Hour24))
	line(strings.ToUpper(f.Now.Format("Mon, Jan 2 2006")))
	if f.Ambient {
		b.WriteByte('\n')
	} else {
		line(strings.Repeat("-", 8))
	}

	degree := "°"
	if f.Ambient && f.LowBit {
		degree = ""
	}
	icon := weather.ConditionFor(f.Weather.ConditionCode).Glyph()
	line(fmt.Sprintf("%s  %.0f%s  %.0f%s", icon, f.Weather.MaxTemp, degree, f.Weather.MinTemp, degree))
	return b.String()
}

func clockText(t time.Time, hour24 bool) string {
	if hour24 {
		return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	amPm := "AM"
	if t.Hour() >= 12 {
		amPm = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), amPm)
}

func center(s string) string {
	pad := (faceWidth - utf8.RuneCountInString(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}
