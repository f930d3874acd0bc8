package tracklog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

func TestFormatRecord(t *testing.T) {
	f := gps.Fix{
		Valid:      true,
		Latitude:   39.913283,
		Longitude:  116.44475,
		Hour:       17,
		Minute:     23,
		Second:     36,
		Date:       "2025-01-23",
		Satellites: 8,
		HDOP:       0.9,
	}
	got := string(formatRecord(f, false))
	if !strings.HasPrefix(got, "116.444750,39.913283,2025-01-23T17:23:36,8,0.90,") {
		t.Fatalf("record=%q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Fatalf("record missing newline")
	}

	p, ts, ok := ParseRecord(got)
	if !ok {
		t.Fatalf("ParseRecord rejected %q", got)
	}
	if p.Lon != 116.44475 || p.Lat != 39.913283 || ts != "2025-01-23T17:23:36" {
		t.Fatalf("parsed %+v %q", p, ts)
	}

	// The GCJ-02 copy is shifted by a few hundred meters in Beijing.
	parts := strings.Split(strings.TrimSpace(got), ",")
	if parts[5] == parts[0] || parts[6] == parts[1] {
		t.Fatalf("gcj02 columns not offset: %v", parts)
	}
}

func TestParseRecord_SkipsHeader(t *testing.T) {
	for _, line := range []string{"# format: x", "", "1,2"} {
		if _, _, ok := ParseRecord(line); ok {
			t.Fatalf("accepted %q", line)
		}
	}
}

func TestHeader(t *testing.T) {
	h := string(header("20250123_001.log", time.Date(2025, 1, 23, 0, 0, 0, 0, time.UTC), true))
	for _, line := range strings.Split(strings.TrimSuffix(h, "\n"), "\n") {
		if !strings.HasPrefix(line, "# ") {
			t.Fatalf("header line %q not a comment", line)
		}
	}
	if !strings.Contains(h, extendedRecordFields) {
		t.Fatalf("header missing field list")
	}
}

func TestRing_WrapAndDrain(t *testing.T) {
	r := newRing(8)
	if _, err := r.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	// Drain partially by hand to move start forward.
	r.discard(4)
	if _, err := r.Write([]byte("ghijkl")); err != nil {
		t.Fatalf("wrapped write: %v", err)
	}
	if _, err := r.Write([]byte("x")); err != errRingFull {
		t.Fatalf("err=%v want full", err)
	}
	n, err := r.WriteTo(&out)
	if err != nil || n != 8 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if out.String() != "efghijkl" {
		t.Fatalf("drained %q", out.String())
	}
	if r.Len() != 0 || r.Free() != 8 {
		t.Fatalf("len=%d free=%d after drain", r.Len(), r.Free())
	}
}

type shortWriter struct{ max int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		return w.max, nil
	}
	return len(p), nil
}

func TestRing_PartialWriteKeepsRemainder(t *testing.T) {
	r := newRing(8)
	_, _ = r.Write([]byte("abcdef"))
	n, _ := r.WriteTo(&shortWriter{max: 4})
	if n != 4 || r.Len() != 2 {
		t.Fatalf("n=%d len=%d", n, r.Len())
	}
	var out bytes.Buffer
	_, _ = r.WriteTo(&out)
	if out.String() != "ef" {
		t.Fatalf("remainder %q", out.String())
	}
}

func TestParseFix_RoundTripsRecordFields(t *testing.T) {
	in := gps.Fix{
		Valid:      true,
		FixQuality: 1,
		Latitude:   -33.856784,
		Longitude:  151.215297,
		AltitudeM:  12.5,
		CourseDeg:  270.1,
		Hour:       8,
		Minute:     5,
		Second:     9,
		Date:       "2025-06-30",
		Satellites: 11,
		HDOP:       1.25,
	}
	for _, extended := range []bool{false, true} {
		f, ok := ParseFix(string(formatRecord(in, extended)))
		if !ok {
			t.Fatalf("extended=%v: rejected", extended)
		}
		if f.Latitude != in.Latitude || f.Longitude != in.Longitude || f.Timestamp() != in.Timestamp() {
			t.Fatalf("extended=%v: got %+v", extended, f)
		}
		if f.Satellites != 11 || f.HDOP != 1.25 {
			t.Fatalf("extended=%v: sats=%d hdop=%v", extended, f.Satellites, f.HDOP)
		}
		if extended && (f.AltitudeM != 12.5 || f.CourseDeg != 270.1 || f.FixQuality != 1) {
			t.Fatalf("extended fields lost: %+v", f)
		}
		if !extended && f.AltitudeM != 0 {
			t.Fatalf("altitude set from a short record: %+v", f)
		}
	}
}

func TestParseFix_TimeOnly(t *testing.T) {
	f, ok := ParseFix("116.400000,39.900000,23:59:58,4,2.00,116.406000,39.901000")
	if !ok || f.Date != "" || f.Time() != "23:59:58" {
		t.Fatalf("f=%+v ok=%v", f, ok)
	}
	if _, ok := ParseFix("116.4,39.9,noon,4,2.00,116.4,39.9"); ok {
		t.Fatalf("accepted a bad timestamp")
	}
}
