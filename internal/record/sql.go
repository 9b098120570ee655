package record

import (
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertFixSQL = `
INSERT INTO fixes (timestamp,
                   talker,
                   utc_time,
                   latitude,
                   longitude,
                   altitude,
                   fix_quality,
                   satellites,
                   hdop)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertDopSQL = `
INSERT INTO dops (timestamp, talker, mode, fix_type, pdop, hdop, vdop)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertTelemetrySQL = `
INSERT INTO telemetry (timestamp,
                       latitude,
                       longitude,
                       altitude,
                       fix_quality,
                       satellites,
                       hdop,
                       pdop,
                       vdop,
                       speed_knots,
                       course_deg)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertCommandSQL = `
INSERT INTO commands (timestamp, event, command, attempt, ack)
VALUES (?, ?, ?, ?, ?)`

	selectLastFixesSQL = `
SELECT timestamp,
       talker,
       latitude,
       longitude,
       altitude,
       fix_quality
FROM fixes
ORDER BY id DESC
LIMIT ?`
)
