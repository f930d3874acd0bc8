package app

import (
	"github.com/gansidui/geohash"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/coord"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

// CoordsPayload is published on the coords topic: the current position in
// every supported datum plus a geohash of the WGS-84 point.
type CoordsPayload struct {
	Valid     bool        `json:"valid"`
	Timestamp string      `json:"timestamp"`
	WGS84     coord.Point `json:"wgs84"`
	GCJ02     coord.Point `json:"gcj02"`
	BD09      coord.Point `json:"bd09"`
	Geohash   string      `json:"geohash,omitempty"`
}

// buildCoords converts f into all three datums. An invalid fix yields a
// payload with only Valid and Timestamp set.
func buildCoords(f gps.Fix, precision int) CoordsPayload {
	p := CoordsPayload{Valid: f.Valid, Timestamp: f.Timestamp()}
	if !f.Valid {
		return p
	}
	wgs := coord.Point{Lon: f.Longitude, Lat: f.Latitude}
	p.WGS84 = wgs
	p.GCJ02 = coord.ToGCJ02(wgs)
	p.BD09 = coord.ToBD09(wgs)
	if precision > 0 {
		p.Geohash, _ = geohash.Encode(f.Latitude, f.Longitude, precision)
	}
	return p
}
