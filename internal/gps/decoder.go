package gps

import (
	"bytes"
	"errors"
	"log"
	"math"
	"strconv"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/tevino/abool/v2"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/observability"
)

const (
	knotsToKmh = 1.852

	// DefaultUTCOffset is the local display offset (China Standard Time).
	DefaultUTCOffset = 8 * time.Hour

	// snrFullScale is the C/N0 in dB-Hz reported as 100 % signal strength.
	snrFullScale = 50.0
	// gsvSNRFields is the number of satellite blocks carried by one GSV message.
	gsvSNRFields = 4
)

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// UTCOffset is added to the receiver's UTC time before it is stored.
	UTCOffset time.Duration
	// Debug, when set, logs every sentence and every rejection.
	Debug *abool.AtomicBool
}

// Decoder turns raw receiver output into updates of a FixStore.
type Decoder struct {
	store  *FixStore
	offset time.Duration
	debug  *abool.AtomicBool
}

// Result summarizes one Decode call.
type Result struct {
	Accepted int
	Rejected int
	// Types lists the sentence families merged into the store, in the order
	// RMC, GGA, GSA, GSV.
	Types   []string
	Changed bool
}

func NewDecoder(store *FixStore, opts DecoderOptions) *Decoder {
	debug := opts.Debug
	if debug == nil {
		debug = abool.New()
	}
	return &Decoder{store: store, offset: opts.UTCOffset, debug: debug}
}

type position struct {
	lat, lon         float64
	latRaw, lonRaw   string
	latHemi, lonHemi string
}

type rmcData struct {
	clock    nmea.Time
	date     nmea.Date
	active   bool
	pos      position
	havePos  bool
	speedKn  float64
	haveSpd  bool
	course   float64
	haveCrs  bool
	haveDate bool
}

type ggaData struct {
	clock    nmea.Time
	quality  int
	pos      position
	havePos  bool
	sats     int
	haveSats bool
	hdop     float64
	haveHDOP bool
	alt      float64
	haveAlt  bool
}

type gsaData struct {
	pdop, hdop, vdop             float64
	havePDOP, haveHDOP, haveVDOP bool
}

type gsvData struct {
	inView map[string]int // by talker
	snrSum int64
	snrN   int
}

// Decode scans raw for sentences, keeps the newest valid one of each family
// (all GSV messages are accumulated) and merges them into the store. Invalid
// or partial sentences are discarded and counted; they never reset state.
func (d *Decoder) Decode(raw []byte) Result {
	var (
		res Result
		rmc *rmcData
		gga *ggaData
		gsa *gsaData
		gsv *gsvData
	)

	for len(raw) > 0 {
		var line []byte
		if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
			line, raw = raw[:nl+1], raw[nl+1:]
		} else {
			line, raw = raw, nil
		}
		start := bytes.IndexByte(line, '$')
		if start < 0 {
			continue
		}
		line = line[start:]

		s, err := parseSentence(line)
		if err == nil {
			err = d.collect(s, &rmc, &gga, &gsa, &gsv)
		}
		if err != nil {
			d.reject(line, err)
			res.Rejected++
			continue
		}
		res.Accepted++
		observability.SentencesDecoded.WithLabelValues(s.Type).Inc()
		if d.debug.IsSet() {
			log.Printf("gps: %s", s.Raw)
		}
	}

	if rmc != nil {
		res.Types = append(res.Types, TypeRMC)
	}
	if gga != nil {
		res.Types = append(res.Types, TypeGGA)
	}
	if gsa != nil {
		res.Types = append(res.Types, TypeGSA)
	}
	if gsv != nil {
		res.Types = append(res.Types, TypeGSV)
	}
	if len(res.Types) == 0 {
		return res
	}

	d.store.Update(func(f *Fix) {
		before := *f
		d.merge(f, rmc, gga, gsa, gsv)
		res.Changed = *f != before
		if f.Valid {
			observability.FixValid.Set(1)
		} else {
			observability.FixValid.Set(0)
		}
		observability.SatellitesInUse.Set(float64(f.Satellites))
	})
	return res
}

func (d *Decoder) reject(line []byte, err error) {
	kind := "unknown"
	var de *DecodeError
	if errors.As(err, &de) {
		kind = de.Kind.String()
	}
	observability.SentencesRejected.WithLabelValues(kind).Inc()
	if d.debug.IsSet() {
		log.Printf("gps: rejected %q: %v", bytes.TrimRight(line, "\r\n"), err)
	}
}

func (d *Decoder) collect(s sentence, rmc **rmcData, gga **ggaData, gsa **gsaData, gsv **gsvData) error {
	switch s.Type {
	case TypeRMC:
		v, err := parseRMC(s)
		if err != nil {
			return err
		}
		*rmc = &v
	case TypeGGA:
		v, err := parseGGA(s)
		if err != nil {
			return err
		}
		*gga = &v
	case TypeGSA:
		v, err := parseGSA(s)
		if err != nil {
			return err
		}
		*gsa = &v
	case TypeGSV:
		if *gsv == nil {
			*gsv = &gsvData{inView: map[string]int{}}
		}
		return addGSV(s, *gsv)
	}
	return nil
}

// merge applies one acquisition window to f. Fields a sentence does not carry
// keep their previous values.
func (d *Decoder) merge(f *Fix, rmc *rmcData, gga *ggaData, gsa *gsaData, gsv *gsvData) {
	// Validity: with both RMC and GGA present, both must report a fix.
	haveEvidence := rmc != nil || gga != nil
	valid := true
	if rmc != nil && !rmc.active {
		valid = false
	}
	if gga != nil && gga.quality == 0 {
		valid = false
	}

	switch {
	case rmc != nil && rmc.clock.Valid:
		d.setClock(f, rmc.clock, rmc.date, rmc.haveDate)
	case gga != nil && gga.clock.Valid:
		d.setClock(f, gga.clock, nmea.Date{}, false)
	}

	if gga != nil {
		f.FixQuality = gga.quality
		if gga.haveSats {
			f.Satellites = gga.sats
		}
		if gga.haveHDOP {
			f.HDOP = gga.hdop
		}
	}
	if gsa != nil {
		if gsa.havePDOP {
			f.PDOP = gsa.pdop
		}
		if gsa.haveVDOP {
			f.VDOP = gsa.vdop
		}
		if gsa.haveHDOP && (gga == nil || !gga.haveHDOP) {
			f.HDOP = gsa.hdop
		}
	}
	if gsv != nil {
		total := 0
		for _, n := range gsv.inView {
			total += n
		}
		f.InView = total
		f.SignalPercent = signalPercent(gsv)
	}

	if !haveEvidence {
		return
	}
	if !valid {
		f.Valid = false
		f.clearPosition()
		return
	}

	switch {
	case rmc != nil && rmc.havePos:
		setPosition(f, rmc.pos)
	case gga != nil && gga.havePos:
		setPosition(f, gga.pos)
	}
	if rmc != nil {
		if rmc.haveSpd {
			f.SpeedKmh = rmc.speedKn * knotsToKmh
		}
		if rmc.haveCrs {
			f.CourseDeg = rmc.course
		}
	}
	if gga != nil && gga.haveAlt {
		f.AltitudeM = gga.alt
	}
	f.Valid = f.HasPosition()
}

func setPosition(f *Fix, p position) {
	f.Latitude = p.lat
	f.Longitude = p.lon
	f.LatitudeRaw = p.latRaw
	f.LongitudeRaw = p.lonRaw
	f.LatHemisphere = p.latHemi
	f.LonHemisphere = p.lonHemi
}

// setClock stores the receiver's UTC time shifted by the decoder offset. With
// a date the shift may roll the date over; without one the hour wraps.
func (d *Decoder) setClock(f *Fix, t nmea.Time, date nmea.Date, haveDate bool) {
	if haveDate {
		local := time.Date(2000+date.YY, time.Month(date.MM), date.DD,
			t.Hour, t.Minute, t.Second, 0, time.UTC).Add(d.offset)
		f.Hour, f.Minute, f.Second = local.Hour(), local.Minute(), local.Second()
		f.Date = local.Format("2006-01-02")
		f.HaveTime = true
		return
	}
	secs := t.Hour*3600 + t.Minute*60 + t.Second + int(d.offset/time.Second)
	const day = 24 * 3600
	for secs >= day {
		secs -= day
	}
	for secs < 0 {
		secs += day
	}
	f.Hour, f.Minute, f.Second = secs/3600, secs/60%60, secs%60
	f.HaveTime = true
}

func signalPercent(g *gsvData) int {
	if g.snrN == 0 {
		return 0
	}
	mean := float64(g.snrSum) / float64(g.snrN)
	pct := int(math.Round(mean / snrFullScale * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	1: time (hhmmss.sss)   2: status (A/V)
//	3: latitude ddmm.mmmm  4: N/S
//	5: longitude dddmm.mmmm 6: E/W
//	7: speed (knots)       8: course (deg)
//	9: date (ddmmyy)
func parseRMC(s sentence) (rmcData, error) {
	var v rmcData
	if len(s.Fields) < 10 {
		return v, malformed("RMC has %d fields", len(s.Fields))
	}
	var err error
	if v.clock, err = parseClock(s.field(1)); err != nil {
		return v, err
	}
	switch s.field(2) {
	case nmea.ValidRMC:
		v.active = true
	case nmea.InvalidRMC:
	default:
		return v, malformed("RMC status %q", s.field(2))
	}
	if v.pos, v.havePos, err = parsePosition(s, 3); err != nil {
		return v, err
	}
	if v.speedKn, v.haveSpd, err = parseOptFloat(s.field(7)); err != nil {
		return v, err
	}
	if v.course, v.haveCrs, err = parseOptFloat(s.field(8)); err != nil {
		return v, err
	}
	if ds := s.field(9); ds != "" {
		date, err := nmea.ParseDate(ds)
		if err != nil {
			return v, malformed("RMC date %q", ds)
		}
		v.date, v.haveDate = date, true
	}
	return v, nil
}

// GGA: Global Positioning System Fix Data
//
//	1: time  2-5: lat,N/S,lon,E/W  6: fix quality (0=invalid)
//	7: satellites in use  8: HDOP  9: altitude (m)
func parseGGA(s sentence) (ggaData, error) {
	var v ggaData
	if len(s.Fields) < 10 {
		return v, malformed("GGA has %d fields", len(s.Fields))
	}
	var err error
	if v.clock, err = parseClock(s.field(1)); err != nil {
		return v, err
	}
	if v.pos, v.havePos, err = parsePosition(s, 2); err != nil {
		return v, err
	}
	q := s.field(6)
	if q == "" {
		q = nmea.Invalid
	}
	if v.quality, err = strconv.Atoi(q); err != nil {
		return v, malformed("GGA quality %q", q)
	}
	if n := s.field(7); n != "" {
		if v.sats, err = strconv.Atoi(n); err != nil {
			return v, malformed("GGA satellites %q", n)
		}
		v.haveSats = true
	}
	if v.hdop, v.haveHDOP, err = parseOptFloat(s.field(8)); err != nil {
		return v, err
	}
	if v.alt, v.haveAlt, err = parseOptFloat(s.field(9)); err != nil {
		return v, err
	}
	return v, nil
}

// GSA carries the dilution of precision triple in fields 15-17.
func parseGSA(s sentence) (gsaData, error) {
	var v gsaData
	parsed, err := nmea.Parse(s.Raw)
	if err != nil {
		return v, malformed("%v", err)
	}
	m, ok := parsed.(nmea.GSA)
	if !ok {
		return v, malformed("GSA decoded as %T", parsed)
	}
	v.pdop, v.havePDOP = m.PDOP, s.field(15) != ""
	v.hdop, v.haveHDOP = m.HDOP, s.field(16) != ""
	v.vdop, v.haveVDOP = m.VDOP, s.field(17) != ""
	return v, nil
}

// addGSV folds one satellites-in-view message into the running totals.
func addGSV(s sentence, acc *gsvData) error {
	parsed, err := nmea.Parse(s.Raw)
	if err != nil {
		return malformed("%v", err)
	}
	m, ok := parsed.(nmea.GSV)
	if !ok {
		return malformed("GSV decoded as %T", parsed)
	}
	acc.inView[s.Talker] = int(m.NumberSVsInView)
	for i, info := range m.Info {
		if i >= gsvSNRFields {
			break
		}
		if info.SNR > 0 {
			acc.snrSum += info.SNR
			acc.snrN++
		}
	}
	return nil
}

func parseClock(v string) (nmea.Time, error) {
	if v == "" {
		return nmea.Time{}, nil
	}
	t, err := nmea.ParseTime(v)
	if err != nil {
		return nmea.Time{}, malformed("time %q", v)
	}
	return t, nil
}

func parseOptFloat(v string) (float64, bool, error) {
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, malformed("number %q", v)
	}
	return f, true, nil
}

// parsePosition reads lat,N/S,lon,E/W starting at field i. Empty fields mean
// the sentence carries no position.
func parsePosition(s sentence, i int) (position, bool, error) {
	latRaw, latHemi := s.field(i), s.field(i+1)
	lonRaw, lonHemi := s.field(i+2), s.field(i+3)
	if latRaw == "" && lonRaw == "" {
		return position{}, false, nil
	}
	lat, err := parseCoordinate(latRaw, latHemi, "N", "S", 90)
	if err != nil {
		return position{}, false, err
	}
	lon, err := parseCoordinate(lonRaw, lonHemi, "E", "W", 180)
	if err != nil {
		return position{}, false, err
	}
	return position{
		lat: lat, lon: lon,
		latRaw: latRaw, lonRaw: lonRaw,
		latHemi: latHemi, lonHemi: lonHemi,
	}, true, nil
}

// parseCoordinate converts ddmm.mmmm / dddmm.mmmm to signed decimal degrees:
// degrees = floor(v/100), minutes = remainder.
func parseCoordinate(v, hemi, pos, neg string, limit float64) (float64, error) {
	if hemi != pos && hemi != neg {
		return 0, malformed("hemisphere %q", hemi)
	}
	raw, err := strconv.ParseFloat(v, 64)
	if err != nil || raw < 0 {
		return 0, malformed("coordinate %q", v)
	}
	deg := math.Floor(raw / 100)
	mins := raw - deg*100
	if mins >= 60 {
		return 0, malformed("coordinate minutes %q", v)
	}
	dec := deg + mins/60
	if dec > limit {
		return 0, malformed("coordinate %q out of range", v)
	}
	if hemi == neg {
		dec = -dec
	}
	return dec, nil
}
