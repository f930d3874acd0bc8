package gps

import (
	"fmt"
	"math"
)

// positionEpsilon is the smallest |lat| and |lon| a valid fix may carry. The
// receiver reports 0,0 with an active status while it is still acquiring.
const positionEpsilon = 1e-4

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Valid bool `json:"valid"`
	// FixQuality is the GGA quality code; 0 means no fix.
	FixQuality int `json:"fix_quality"`

	// Signed decimal degrees plus the raw ddmm.mmmm / dddmm.mmmm fields and
	// hemisphere letters they were derived from.
	Latitude      float64 `json:"lat"`
	Longitude     float64 `json:"lon"`
	LatitudeRaw   string  `json:"lat_raw"`
	LongitudeRaw  string  `json:"lon_raw"`
	LatHemisphere string  `json:"lat_hemi"`
	LonHemisphere string  `json:"lon_hemi"`

	AltitudeM float64 `json:"altitude_m"`
	SpeedKmh  float64 `json:"speed_kmh"`
	CourseDeg float64 `json:"course_deg"`

	// Local time of day (UTC plus the decoder offset) and date "2025-01-23".
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Second   int    `json:"second"`
	Date     string `json:"date"`
	HaveTime bool   `json:"have_time"`

	Satellites    int     `json:"satellites"`
	InView        int     `json:"in_view"`
	SignalPercent int     `json:"signal"`
	HDOP          float64 `json:"hdop"`
	PDOP          float64 `json:"pdop"`
	VDOP          float64 `json:"vdop"`
}

// Time returns the local time of day as "hh:mm:ss".
func (f Fix) Time() string {
	return fmt.Sprintf("%02d:%02d:%02d", f.Hour, f.Minute, f.Second)
}

// Timestamp returns "YYYY-MM-DDThh:mm:ss", or only the time of day when no
// date has been received yet.
func (f Fix) Timestamp() string {
	if f.Date == "" {
		return f.Time()
	}
	return f.Date + "T" + f.Time()
}

// HasPosition reports whether both coordinates are far enough from zero to be
// a real position.
func (f Fix) HasPosition() bool {
	return math.Abs(f.Latitude) > positionEpsilon && math.Abs(f.Longitude) > positionEpsilon
}

func (f *Fix) clearPosition() {
	f.Latitude = 0
	f.Longitude = 0
	f.LatitudeRaw = ""
	f.LongitudeRaw = ""
	f.LatHemisphere = ""
	f.LonHemisphere = ""
}
