// Package coord converts coordinates between WGS-84, GCJ-02 and BD-09.
//
// The offsets are the widely published empirical approximations of the
// national obfuscation algorithms. They are only meaningful inside mainland
// China; coordinates outside the bounding box are returned unchanged.
package coord

import (
	"fmt"
	"math"
)

const (
	// Krasovsky 1940 ellipsoid, as used by the GCJ-02 offset.
	semiMajorAxis = 6378245.0
	eccentricity2 = 0.00669342162296594323

	xPi = math.Pi * 3000.0 / 180.0

	minLon = 72.004
	maxLon = 137.8347
	minLat = 0.8293
	maxLat = 55.8271
)

// System identifies a geodetic reference system.
type System int

const (
	WGS84 System = iota
	GCJ02
	BD09
)

func (s System) String() string {
	switch s {
	case WGS84:
		return "wgs84"
	case GCJ02:
		return "gcj02"
	case BD09:
		return "bd09"
	default:
		return fmt.Sprintf("system(%d)", int(s))
	}
}

// ParseSystem accepts the names returned by System.String.
func ParseSystem(name string) (System, error) {
	switch name {
	case "wgs84", "WGS84", "wgs-84", "WGS-84":
		return WGS84, nil
	case "gcj02", "GCJ02", "gcj-02", "GCJ-02":
		return GCJ02, nil
	case "bd09", "BD09", "bd-09", "BD-09":
		return BD09, nil
	default:
		return 0, fmt.Errorf("coord: unknown system %q", name)
	}
}

// Point is a longitude/latitude pair in decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// OutOfChina reports whether the coordinate lies outside the region where the
// offsets apply.
func OutOfChina(lon, lat float64) bool {
	return lon < minLon || lon > maxLon || lat < minLat || lat > maxLat
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLon(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}

// gcjDelta returns the GCJ-02 offset for a WGS-84 coordinate.
func gcjDelta(lon, lat float64) (dLon, dLat float64) {
	dLat = transformLat(lon-105.0, lat-35.0)
	dLon = transformLon(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - eccentricity2*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((semiMajorAxis * (1 - eccentricity2)) / (magic * sqrtMagic) * math.Pi)
	dLon = (dLon * 180.0) / (semiMajorAxis / sqrtMagic * math.Cos(radLat) * math.Pi)
	return dLon, dLat
}

// ToGCJ02 converts a WGS-84 coordinate to GCJ-02.
func ToGCJ02(p Point) Point {
	if OutOfChina(p.Lon, p.Lat) {
		return p
	}
	dLon, dLat := gcjDelta(p.Lon, p.Lat)
	return Point{Lon: p.Lon + dLon, Lat: p.Lat + dLat}
}

// GCJ02ToBD09 applies the BD-09 offset to a coordinate that is already in
// GCJ-02. It does not check the bounding box.
func GCJ02ToBD09(p Point) Point {
	x, y := p.Lon, p.Lat
	z := math.Sqrt(x*x+y*y) + 0.00002*math.Sin(y*xPi)
	theta := math.Atan2(y, x) + 0.000003*math.Cos(x*xPi)
	return Point{Lon: z*math.Cos(theta) + 0.0065, Lat: z*math.Sin(theta) + 0.006}
}

// ToBD09 converts a WGS-84 coordinate to BD-09 through GCJ-02.
func ToBD09(p Point) Point {
	if OutOfChina(p.Lon, p.Lat) {
		return p
	}
	return GCJ02ToBD09(ToGCJ02(p))
}

// ToBD09Direct is the single-call composition of ToGCJ02 and GCJ02ToBD09.
func ToBD09Direct(p Point) Point {
	return ToBD09(p)
}

// GCJ02ToWGS84 is the first-order inverse of ToGCJ02. The residual error is
// around a metre.
func GCJ02ToWGS84(p Point) Point {
	if OutOfChina(p.Lon, p.Lat) {
		return p
	}
	dLon, dLat := gcjDelta(p.Lon, p.Lat)
	return Point{Lon: p.Lon - dLon, Lat: p.Lat - dLat}
}

// BD09ToGCJ02 is the inverse of GCJ02ToBD09.
func BD09ToGCJ02(p Point) Point {
	x, y := p.Lon-0.0065, p.Lat-0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*xPi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*xPi)
	return Point{Lon: z * math.Cos(theta), Lat: z * math.Sin(theta)}
}

// BD09ToWGS84 chains BD09ToGCJ02 and GCJ02ToWGS84.
func BD09ToWGS84(p Point) Point {
	if OutOfChina(p.Lon, p.Lat) {
		return p
	}
	return GCJ02ToWGS84(BD09ToGCJ02(p))
}

// Convert moves p from one system to another. Conversions out of GCJ-02 and
// BD-09 use the approximate inverses.
func Convert(p Point, from, to System) (Point, error) {
	if from == to {
		return p, nil
	}
	var wgs Point
	switch from {
	case WGS84:
		wgs = p
	case GCJ02:
		wgs = GCJ02ToWGS84(p)
	case BD09:
		wgs = BD09ToWGS84(p)
	default:
		return Point{}, fmt.Errorf("coord: unsupported source %s", from)
	}
	switch to {
	case WGS84:
		return wgs, nil
	case GCJ02:
		if from == BD09 && !OutOfChina(p.Lon, p.Lat) {
			return BD09ToGCJ02(p), nil
		}
		return ToGCJ02(wgs), nil
	case BD09:
		if from == GCJ02 && !OutOfChina(p.Lon, p.Lat) {
			return GCJ02ToBD09(p), nil
		}
		return ToBD09(wgs), nil
	default:
		return Point{}, fmt.Errorf("coord: unsupported target %s", to)
	}
}
