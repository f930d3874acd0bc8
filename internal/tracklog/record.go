package tracklog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/coord"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

const (
	recordFields         = "longitude,latitude,timestamp,satellites,hdop,longitude_gcj02,latitude_gcj02"
	extendedRecordFields = recordFields + ",altitude,course,fix_quality"
)

// formatRecord renders one CSV line, including the trailing newline.
func formatRecord(f gps.Fix, extended bool) []byte {
	gcj := coord.ToGCJ02(coord.Point{Lon: f.Longitude, Lat: f.Latitude})

	b := make([]byte, 0, 128)
	b = strconv.AppendFloat(b, f.Longitude, 'f', 6, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, f.Latitude, 'f', 6, 64)
	b = append(b, ',')
	b = append(b, f.Timestamp()...)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(f.Satellites), 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, f.HDOP, 'f', 2, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, gcj.Lon, 'f', 6, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, gcj.Lat, 'f', 6, 64)
	if extended {
		b = append(b, ',')
		b = strconv.AppendFloat(b, f.AltitudeM, 'f', 1, 64)
		b = append(b, ',')
		b = strconv.AppendFloat(b, f.CourseDeg, 'f', 1, 64)
		b = append(b, ',')
		b = strconv.AppendInt(b, int64(f.FixQuality), 10)
	}
	return append(b, '\n')
}

func header(name string, created time.Time, extended bool) []byte {
	fields := recordFields
	if extended {
		fields = extendedRecordFields
	}
	var sb strings.Builder
	sb.WriteString("# LC76G GNSS track log\n")
	fmt.Fprintf(&sb, "# file: %s\n", name)
	fmt.Fprintf(&sb, "# created: %s\n", created.Format(time.RFC3339))
	sb.WriteString("# coordinates: WGS-84 decimal degrees, GCJ-02 offset copy\n")
	fmt.Fprintf(&sb, "# format: %s\n", fields)
	return []byte(sb.String())
}

// ParseRecord splits a record line back into its WGS-84 position and
// timestamp. Header and blank lines return ok=false.
func ParseRecord(line string) (p coord.Point, timestamp string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return coord.Point{}, "", false
	}
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return coord.Point{}, "", false
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return coord.Point{}, "", false
	}
	return coord.Point{Lon: lon, Lat: lat}, parts[2], true
}

// ParseFix rebuilds the fix a record was written from. Fields the record does
// not carry are left zero; the result is always Valid.
func ParseFix(line string) (gps.Fix, bool) {
	p, ts, ok := ParseRecord(line)
	if !ok {
		return gps.Fix{}, false
	}
	parts := strings.Split(strings.TrimSpace(line), ",")
	f := gps.Fix{Valid: true, Latitude: p.Lat, Longitude: p.Lon}

	dated := strings.Contains(ts, "T")
	layout := "15:04:05"
	if dated {
		layout = "2006-01-02T15:04:05"
	}
	t, err := time.Parse(layout, ts)
	if err != nil {
		return gps.Fix{}, false
	}
	if dated {
		f.Date = t.Format("2006-01-02")
	}
	f.Hour, f.Minute, f.Second = t.Clock()
	f.HaveTime = true

	if f.Satellites, err = strconv.Atoi(parts[3]); err != nil {
		return gps.Fix{}, false
	}
	if f.HDOP, err = strconv.ParseFloat(parts[4], 64); err != nil {
		return gps.Fix{}, false
	}
	if len(parts) >= 10 {
		f.AltitudeM, _ = strconv.ParseFloat(parts[7], 64)
		f.CourseDeg, _ = strconv.ParseFloat(parts[8], 64)
		f.FixQuality, _ = strconv.Atoi(parts[9])
	}
	return f, true
}
