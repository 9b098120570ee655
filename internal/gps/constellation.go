package gps

// Constellation is the two-letter NMEA talker code of a satellite system.
type Constellation string

const (
	ConstellationGPS     Constellation = "GP"
	ConstellationGLONASS Constellation = "GL"
	ConstellationBeiDou  Constellation = "BD"
	ConstellationGalileo Constellation = "GA"
	ConstellationSBAS    Constellation = "SB"
	ConstellationQZSS    Constellation = "QZ"
	ConstellationNavIC   Constellation = "GI"
	ConstellationMixed   Constellation = "GN"
)

var constellationNames = map[Constellation]string{
	ConstellationGPS:     "GPS",
	ConstellationGLONASS: "GLONASS",
	ConstellationBeiDou:  "BeiDou",
	"GB":                 "BeiDou",
	ConstellationGalileo: "Galileo",
	ConstellationSBAS:    "SBAS",
	ConstellationQZSS:    "QZSS",
	"GQ":                 "QZSS",
	ConstellationNavIC:   "NavIC",
	ConstellationMixed:   "mixed",
}

// Name returns a display name, or the raw code for talkers we do not know.
func (c Constellation) Name() string {
	if n, ok := constellationNames[c]; ok {
		return n
	}
	return string(c)
}

// ClassifyPRN maps a satellite id to its constellation by numeric range.
//
// Ids 398 and 399 are used by both BeiDou and NavIC receivers and are reported
// as unknown, so the caller falls back to the talker code.
func ClassifyPRN(prn int) (Constellation, bool) {
	switch {
	case prn >= 1 && prn <= 32:
		return ConstellationGPS, true
	case prn >= 65 && prn <= 96:
		return ConstellationGLONASS, true
	case prn >= 201 && prn <= 237:
		return ConstellationBeiDou, true
	case prn >= 301 && prn <= 336:
		return ConstellationGalileo, true
	case prn >= 120 && prn <= 158:
		return ConstellationSBAS, true
	case prn == 193 || prn == 194:
		return ConstellationQZSS, true
	default:
		return "", false
	}
}
