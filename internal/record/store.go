// Package record appends decoded receiver output to a SQLite database so a
// session can be inspected after the fact.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gnssmon/internal/command"
	"gnssmon/internal/events"
	"gnssmon/internal/gps"
)

// Store writes records through a single WAL-mode connection and serves reads
// from a separate read-only one.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		// SQLite allows one writer; keep database/sql from opening more.
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	// The schema must exist before a read-only connection can see it.
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

// Init opens the database and creates the schema, so configuration errors
// surface at startup instead of on the first record.
func (s *Store) Init() error {
	_, err := s.getWriteDB()
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		s.failed.Add(1)
		return err
	}
	s.written.Add(1)
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (s *Store) InsertFix(ctx context.Context, ts time.Time, pos gps.Position) error {
	rec := pos.Record
	err := s.exec(ctx, insertFixSQL,
		ts.UTC(),
		rec.Talker,
		rec.Time,
		nullFloat(pos.LatDeg),
		nullFloat(pos.LonDeg),
		nullFloat(pos.AltM),
		rec.FixQuality,
		nullInt(rec.Satellites),
		nullFloat(rec.HDOP),
	)
	if err != nil {
		return fmt.Errorf("inserting fix: %w", err)
	}
	return nil
}

func (s *Store) InsertDop(ctx context.Context, ts time.Time, rec gps.DopRecord) error {
	err := s.exec(ctx, insertDopSQL,
		ts.UTC(), rec.Talker, rec.Mode, rec.FixType,
		nullFloat(rec.PDOP), nullFloat(rec.HDOP), nullFloat(rec.VDOP),
	)
	if err != nil {
		return fmt.Errorf("inserting dop: %w", err)
	}
	return nil
}

func (s *Store) InsertTelemetry(ctx context.Context, ts time.Time, t gps.Telemetry) error {
	err := s.exec(ctx, insertTelemetrySQL,
		ts.UTC(),
		nullFloat(t.LatDeg),
		nullFloat(t.LonDeg),
		nullFloat(t.AltM),
		nullInt(t.FixQuality),
		nullInt(t.Satellites),
		nullFloat(t.HDOP),
		nullFloat(t.PDOP),
		nullFloat(t.VDOP),
		nullFloat(t.SpeedKnots),
		nullFloat(t.CourseDeg),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

func (s *Store) InsertCommand(ctx context.Context, ts time.Time, event events.Kind, cmd string, attempt int, ack string) error {
	if err := s.exec(ctx, insertCommandSQL, ts.UTC(), string(event), cmd, attempt, nullString(ack)); err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Handle records one event. Kinds without a table are ignored.
func (s *Store) Handle(ctx context.Context, ev events.Event) error {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	switch ev.Kind {
	case events.KindFix:
		pos, ok := ev.Payload.(gps.Position)
		if !ok {
			return fmt.Errorf("fix event payload is %T", ev.Payload)
		}
		return s.InsertFix(ctx, ts, pos)
	case events.KindDop:
		rec, ok := ev.Payload.(gps.DopRecord)
		if !ok {
			return fmt.Errorf("dop event payload is %T", ev.Payload)
		}
		return s.InsertDop(ctx, ts, rec)
	case events.KindTelemetry:
		t, ok := ev.Payload.(gps.Telemetry)
		if !ok {
			return fmt.Errorf("telemetry event payload is %T", ev.Payload)
		}
		return s.InsertTelemetry(ctx, ts, t)
	case events.KindCommandSent, events.KindCommandResent:
		attempt := 0
		if m, ok := ev.Payload.(map[string]any); ok {
			attempt, _ = m["attempt"].(int)
		}
		return s.InsertCommand(ctx, ts, ev.Kind, ev.Line, attempt, "")
	case events.KindCommandAcked:
		res, ok := ev.Payload.(command.Result)
		if !ok {
			return fmt.Errorf("ack event payload is %T", ev.Payload)
		}
		return s.InsertCommand(ctx, ts, ev.Kind, res.Command, res.Attempts, res.Ack)
	default:
		return nil
	}
}

// Run records hub events until ctx is done.
func (s *Store) Run(ctx context.Context, sub events.Subscriber) error {
	if err := s.Init(); err != nil {
		return err
	}
	log.Printf("record started path=%s", s.dbPath)
	var lastErr string
	return events.Consume(ctx, sub, 512, func(ev events.Event) {
		// Records already dequeued are written even while shutting down.
		if err := s.Handle(context.WithoutCancel(ctx), ev); err != nil {
			if msg := err.Error(); msg != lastErr {
				log.Printf("record write failed kind=%s err=%v", ev.Kind, err)
				lastErr = msg
			}
			return
		}
		lastErr = ""
	})
}

// Fix is one stored GGA position.
type Fix struct {
	Time       time.Time `json:"time"`
	Talker     string    `json:"talker"`
	LatDeg     *float64  `json:"lat_deg,omitempty"`
	LonDeg     *float64  `json:"lon_deg,omitempty"`
	AltM       *float64  `json:"alt_m,omitempty"`
	FixQuality string    `json:"fix_quality"`
}

// LastFixes returns up to limit fixes, newest first.
func (s *Store) LastFixes(ctx context.Context, limit int) (fixes []Fix, err error) {
	if limit <= 0 {
		limit = 100
	}
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectLastFixesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying fixes: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var f Fix
		var lat, lon, alt sql.NullFloat64
		if err = rows.Scan(&f.Time, &f.Talker, &lat, &lon, &alt, &f.FixQuality); err != nil {
			return nil, fmt.Errorf("scanning fix: %w", err)
		}
		f.LatDeg = floatPtr(lat)
		f.LonDeg = floatPtr(lon)
		f.AltM = floatPtr(alt)
		fixes = append(fixes, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fixes: %w", err)
	}
	return fixes, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Counts returns rows written and failed writes.
func (s *Store) Counts() (written, failed uint64) {
	return s.written.Load(), s.failed.Load()
}

func (s *Store) Path() string { return s.dbPath }

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				s.closeErr = fmt.Errorf("closing read connection: %w", err)
			}
		}
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("closing write connection: %w", err)
			}
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
