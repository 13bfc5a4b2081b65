package weather

// Condition is the icon class a condition code is drawn with.
type Condition string

const (
	ConditionClear       Condition = "clear"
	ConditionLightClouds Condition = "light_clouds"
	ConditionCloudy      Condition = "cloudy"
	ConditionLightRain   Condition = "light_rain"
	ConditionRain        Condition = "rain"
	ConditionSnow        Condition = "snow"
	ConditionFog         Condition = "fog"
	ConditionStorm       Condition = "storm"
)

// ConditionFor maps an OpenWeatherMap condition code to its icon class.
// Unknown codes draw as clear.
func ConditionFor(code int) Condition {
	switch {
	case code >= 200 && code <= 232:
		return ConditionStorm
	case code >= 300 && code <= 321:
		return ConditionLightRain
	case code >= 500 && code <= 504:
		return ConditionRain
	case code == 511:
		return ConditionSnow
	case code >= 520 && code <= 531:
		return ConditionLightRain
	case code >= 600 && code <= 622:
		return ConditionSnow
	case code >= 701 && code <= 761:
		return ConditionFog
	case code == 781:
		return ConditionStorm
	case code == 800:
		return ConditionClear
	case code == 801:
		return ConditionLightClouds
	case code >= 802 && code <= 804:
		return ConditionCloudy
	}
	return ConditionClear
}

// Glyph is the short marker used by the text renderer.
func (c Condition) Glyph() string {
	switch c {
	case ConditionLightClouds:
		return "(~)"
	case ConditionCloudy:
		return "~~~"
	case ConditionLightRain:
		return "','"
	case ConditionRain:
		return "///"
	case ConditionSnow:
		return "***"
	case ConditionFog:
		return "==="
	case ConditionStorm:
		return "/!/"
	}
	return "(o)"
}
