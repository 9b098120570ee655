package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"

	"gnssmon/internal/gps"
)

type sinkCounter struct {
	name   string
	counts func() (ok, failed uint64)
}

type statsInput struct {
	GPS        gps.Status
	HubDropped uint64
	Connects   uint64
	Sinks      []sinkCounter
	RecordPath string
}

func formatStats(in statsInput) string {
	var b strings.Builder
	st := in.GPS.Stats
	fmt.Fprintf(&b, "stats lines=%s gga=%s gsa=%s gsv=%s rmc=%s ignored=%s malformed=%s bad_checksum=%s sats=%d connects=%d hub_dropped=%s",
		humanize.Comma(int64(st.Lines)),
		humanize.Comma(int64(st.GGA)),
		humanize.Comma(int64(st.GSA)),
		humanize.Comma(int64(st.GSV)),
		humanize.Comma(int64(st.RMC)),
		humanize.Comma(int64(st.Ignored)),
		humanize.Comma(int64(st.Malformed)),
		humanize.Comma(int64(st.BadChecksum)),
		in.GPS.Satellites,
		in.Connects,
		humanize.Comma(int64(in.HubDropped)),
	)
	for _, s := range in.Sinks {
		ok, failed := s.counts()
		fmt.Fprintf(&b, " %s=%s/%s", s.name, humanize.Comma(int64(ok)), humanize.Comma(int64(failed)))
	}
	if in.RecordPath != "" {
		if fi, err := os.Stat(in.RecordPath); err == nil {
			fmt.Fprintf(&b, " record_size=%s", humanize.Bytes(uint64(fi.Size())))
		}
	}
	return b.String()
}

// logStats writes one stats line every interval until ctx is done.
func logStats(ctx context.Context, clk clock.Clock, interval time.Duration, collect func() statsInput) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.Print(formatStats(collect()))
		}
	}
}
