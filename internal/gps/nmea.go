package gps

import (
	"regexp"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

type SentenceType int

const (
	SentenceUnknown SentenceType = iota
	SentenceGGA
	SentenceGSA
	SentenceGSV
	SentenceRMC
)

func (t SentenceType) String() string {
	switch t {
	case SentenceGGA:
		return "GGA"
	case SentenceGSA:
		return "GSA"
	case SentenceGSV:
		return "GSV"
	case SentenceRMC:
		return "RMC"
	default:
		return "unknown"
	}
}

var sentenceRe = regexp.MustCompile(`^\$([A-Z]{2})(GGA|GSA|GSV|RMC),`)

// Classify identifies the sentence type from the "$xxTTT," prefix, where xx is
// any two-letter talker (GP, GL, GA, GB, BD, GN, ...).
func Classify(line string) SentenceType {
	_, t := classify(line)
	return t
}

func classify(line string) (talker string, t SentenceType) {
	m := sentenceRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", SentenceUnknown
	}
	switch m[2] {
	case "GGA":
		return m[1], SentenceGGA
	case "GSA":
		return m[1], SentenceGSA
	case "GSV":
		return m[1], SentenceGSV
	case "RMC":
		return m[1], SentenceRMC
	}
	return "", SentenceUnknown
}

// ValidChecksum reports whether the line carries a "*hh" suffix matching the
// XOR of its payload. Lines without a checksum are reported as invalid.
func ValidChecksum(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return false
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 || len(line)-star-1 < 2 {
		return false
	}
	want := strings.ToUpper(line[star+1 : star+3])
	return nmea.Checksum(line[1:star]) == want
}

// HasChecksum reports whether the line ends in a "*hh" suffix.
func HasChecksum(line string) bool {
	line = strings.TrimSpace(line)
	star := strings.LastIndexByte(line, '*')
	return star != -1 && len(line)-star-1 >= 2
}

// FixRecord is the decoded content of a GGA sentence. Coordinate and time
// fields are kept as received; numeric fields are nil when absent or garbled.
type FixRecord struct {
	Talker     string   `json:"talker"`
	Time       string   `json:"time"`
	Lat        string   `json:"lat"`
	LatDir     string   `json:"lat_dir"`
	Lon        string   `json:"lon"`
	LonDir     string   `json:"lon_dir"`
	FixQuality string   `json:"fix_quality"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
}

// DopRecord is the decoded content of a GSA sentence.
type DopRecord struct {
	Talker  string   `json:"talker"`
	Mode    string   `json:"mode"`
	FixType int      `json:"fix_type"`
	PDOP    *float64 `json:"pdop,omitempty"`
	HDOP    *float64 `json:"hdop,omitempty"`
	VDOP    *float64 `json:"vdop,omitempty"`
}

// RMCRecord is the decoded content of an active (status A) RMC sentence.
type RMCRecord struct {
	Talker     string   `json:"talker"`
	Time       string   `json:"time"`
	Lat        string   `json:"lat"`
	LatDir     string   `json:"lat_dir"`
	Lon        string   `json:"lon"`
	LonDir     string   `json:"lon_dir"`
	SpeedKnots *float64 `json:"speed_knots,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`
}

// GSVRecord is one part of a GSV burst.
type GSVRecord struct {
	Talker     string
	Total      int
	Number     int
	InView     int
	Satellites []Satellite
}

func splitFields(line string) []string {
	return strings.Split(strings.TrimSpace(line), ",")
}

func stripChecksum(s string) string {
	if star := strings.IndexByte(s, '*'); star != -1 {
		s = s[:star]
	}
	return strings.TrimSpace(s)
}

func optFloat(s string) *float64 {
	v, ok := parseFloat(stripChecksum(s))
	if !ok {
		return nil
	}
	return &v
}

func optInt(s string) *int {
	v, err := strconv.Atoi(stripChecksum(s))
	if err != nil {
		return nil
	}
	return &v
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
func ParseGGA(line string) (FixRecord, bool) {
	talker, t := classify(line)
	if t != SentenceGGA {
		return FixRecord{}, false
	}
	f := splitFields(line)
	if len(f) < 10 {
		return FixRecord{}, false
	}
	return FixRecord{
		Talker:     talker,
		Time:       strings.TrimSpace(f[1]),
		Lat:        strings.TrimSpace(f[2]),
		LatDir:     strings.TrimSpace(f[3]),
		Lon:        strings.TrimSpace(f[4]),
		LonDir:     strings.TrimSpace(f[5]),
		FixQuality: stripChecksum(f[6]),
		Satellites: optInt(f[7]),
		HDOP:       optFloat(f[8]),
		AltitudeM:  optFloat(f[9]),
	}, true
}

// GSA: GNSS DOP and Active Satellites
// Fields:
//
//	0: talker+type
//	1: mode (A=auto, M=manual)
//	2: fix type (1=none, 2=2D, 3=3D)
//	3..14: satellite ids used in the solution
//	last three: PDOP, HDOP, VDOP
func ParseGSA(line string) (DopRecord, bool) {
	talker, t := classify(line)
	if t != SentenceGSA {
		return DopRecord{}, false
	}
	f := splitFields(line)
	if len(f) < 17 {
		return DopRecord{}, false
	}
	var fixType int
	switch strings.TrimSpace(f[2]) {
	case "1":
		fixType = 1
	case "2":
		fixType = 2
	case "3":
		fixType = 3
	default:
		return DopRecord{}, false
	}
	n := len(f)
	return DopRecord{
		Talker:  talker,
		Mode:    strings.TrimSpace(f[1]),
		FixType: fixType,
		PDOP:    optFloat(f[n-3]),
		HDOP:    optFloat(f[n-2]),
		VDOP:    optFloat(f[n-1]),
	}, true
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//
// A void fix is the receiver's normal "no position" state and yields nothing.
func ParseRMC(line string) (RMCRecord, bool) {
	talker, t := classify(line)
	if t != SentenceRMC {
		return RMCRecord{}, false
	}
	f := splitFields(line)
	if len(f) < 7 || strings.TrimSpace(f[2]) != "A" {
		return RMCRecord{}, false
	}
	rec := RMCRecord{
		Talker: talker,
		Time:   strings.TrimSpace(f[1]),
		Lat:    strings.TrimSpace(f[3]),
		LatDir: strings.TrimSpace(f[4]),
		Lon:    strings.TrimSpace(f[5]),
		LonDir: stripChecksum(f[6]),
	}
	if len(f) > 7 {
		rec.SpeedKnots = optFloat(f[7])
	}
	if len(f) > 8 {
		rec.CourseDeg = optFloat(f[8])
	}
	return rec, true
}

var gsvHeaderRe = regexp.MustCompile(`^\$([A-Z]{2})GSV,(\d+),(\d+),(\d+)(?:,|\*|$)`)

// GSV: GNSS Satellites in View
// Fields:
//
//	0: talker+type
//	1: total number of messages in this burst
//	2: message number
//	3: satellites in view
//	4..: blocks of (id, elevation, azimuth, SNR), up to four per message
//
// Trailing partial blocks (such as the NMEA 4.11 signal id) are ignored.
func ParseGSV(line string) (GSVRecord, bool) {
	line = strings.TrimSpace(line)
	m := gsvHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return GSVRecord{}, false
	}
	total, err1 := strconv.Atoi(m[2])
	num, err2 := strconv.Atoi(m[3])
	inView, err3 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return GSVRecord{}, false
	}
	rec := GSVRecord{Talker: m[1], Total: total, Number: num, InView: inView}

	f := splitFields(line)
	for i := 4; i+3 < len(f); i += 4 {
		id := stripChecksum(f[i])
		if id == "" {
			continue
		}
		sat := Satellite{
			ID:           id,
			ElevationDeg: optRange(f[i+1], 0, 90),
			AzimuthDeg:   optRange(f[i+2], 0, 360),
			SNR:          parseSNR(f[i+3]),
		}
		sat.Constellation = Constellation(rec.Talker)
		if prn, ok := numericID(id); ok && rec.Talker == string(ConstellationMixed) {
			if c, known := ClassifyPRN(prn); known {
				sat.Constellation = c
			}
		}
		rec.Satellites = append(rec.Satellites, sat)
	}
	return rec, true
}

func optRange(s string, lo, hi float64) *float64 {
	v := optFloat(s)
	if v == nil || *v < lo || *v > hi {
		return nil
	}
	return v
}

// parseSNR accepts only all-digit values once the checksum is removed.
func parseSNR(s string) *int {
	s = stripChecksum(s)
	if s == "" {
		return nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func numericID(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecimalDegrees converts NMEA ddmm.mmmm (latitude, hemisphere N/S) or
// dddmm.mmmm (longitude, hemisphere E/W) into signed decimal degrees.
func DecimalDegrees(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	degLen := 0
	switch hemi {
	case "N", "S":
		degLen = 2
	case "E", "W":
		degLen = 3
	default:
		return 0, false
	}
	if len(v) <= degLen {
		return 0, false
	}

	deg, err := strconv.Atoi(v[:degLen])
	if err != nil || deg < 0 {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[degLen:], 64)
	if err != nil || mins < 0 || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
