// Package weather holds the snapshot that travels from phone to watch and its
// encoding as a replicated record.
package weather

import (
	"strings"
	"time"

	"github.com/mbocsi/wearlink/proto"
)

const (
	// PathWeather is the replicated record carrying the current snapshot.
	PathWeather = "/weather"
	// PathWeatherRequest is the fire-and-forget request message path.
	PathWeatherRequest = "/weather-req"
)

const (
	KeyWeatherID = "weather_id"
	KeyMaxTemp   = "max_temp"
	KeyMinTemp   = "min_temp"
	KeyLocation  = "location"
	KeyTime      = "time"
)

// Snapshot is an immutable weather value. Time only exists so that two
// publishes with identical weather are not collapsed by the relay's change
// deduplication; consumers never read it as a freshness signal.
type Snapshot struct {
	ConditionCode int
	MaxTemp       float64
	MinTemp       float64
	Location      string
	Time          int64 // milliseconds since epoch
}

// NewSnapshot builds a snapshot stamped with now and a normalized location.
func NewSnapshot(conditionCode int, maxTemp, minTemp float64, location string, now time.Time) Snapshot {
	return Snapshot{
		ConditionCode: conditionCode,
		MaxTemp:       maxTemp,
		MinTemp:       minTemp,
		Location:      NormalizeLocation(location),
		Time:          now.UnixMilli(),
	}
}

func NormalizeLocation(location string) string {
	return strings.ToUpper(strings.TrimSpace(location))
}

func (s Snapshot) ToDataMap() proto.DataMap {
	m := proto.NewDataMap()
	m.PutInt(KeyWeatherID, s.ConditionCode)
	m.PutDouble(KeyMaxTemp, s.MaxTemp)
	m.PutDouble(KeyMinTemp, s.MinTemp)
	m.PutString(KeyLocation, s.Location)
	m.PutLong(KeyTime, s.Time)
	return m
}

// SnapshotFromDataMap decodes a record payload. Missing keys decode to zero
// values, the same way a platform data map behaves.
func SnapshotFromDataMap(m proto.DataMap) Snapshot {
	return Snapshot{
		ConditionCode: m.GetInt(KeyWeatherID),
		MaxTemp:       m.GetDouble(KeyMaxTemp),
		MinTemp:       m.GetDouble(KeyMinTemp),
		Location:      m.GetString(KeyLocation),
		Time:          m.GetLong(KeyTime),
	}
}

// Forecast is one row of the phone's forecast store.
type Forecast struct {
	Location  string
	Date      time.Time
	WeatherID int
	ShortDesc string
	MaxTemp   float64
	MinTemp   float64
}
