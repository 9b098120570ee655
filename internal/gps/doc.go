// Package gps turns the NMEA stream of a GNSS receiver into a live picture.
//
// - Decode GGA/GSA/GSV/RMC into typed records (pure, never fatal)
// - Reassemble multi-part GSV bursts per talker
// - Track last-seen satellites with TTL eviction
// - Latch the newest position/quality/DOP values into a telemetry snapshot
// - Run the single reader goroutine that feeds all of the above
package gps
