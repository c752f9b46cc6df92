package downloader

import (
	"errors"
	"time"
)

// ErrDirectNeedsFfmpeg is the configuration error for --direct without
// --ffmpeg: direct mode skips playlist parsing entirely, so only the ffmpeg
// path can consume the raw URL.
var ErrDirectNeedsFfmpeg = errors.New("--direct requires --ffmpeg")

// Config is the immutable configuration for one session, built once by the
// CLI layer at startup. The engine never re-reads it.
type Config struct {
	URL           string
	OutputDir     string
	SegmentSecs   int    // rotate output after this much stream time
	FileExtension string // without the dot

	Timeout      time.Duration // total per-fetch budget across retries
	Retries      int           // additional attempts after the first
	RetryDelay   time.Duration // between attempts
	PollInterval time.Duration // live playlist re-fetch interval
	MaxFailures  int           // consecutive playlist failures before giving up; 0 = unlimited
	FetchAhead   int           // concurrent segment fetches (>= 1)

	OnSegment string // hook template, {} = completed file path
	OnExit    string // hook template, %d %t %s %b %m

	ForceFfmpeg bool // --ffmpeg
	Direct      bool // --direct: hand the raw URL to ffmpeg unparsed
	Insecure    bool // skip TLS verification

	// RTSP credentials.
	Username string
	Password string

	AbortOnSegmentError bool // abort the session when one segment exhausts its retries
	Progress            bool // print progress dots to stderr
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("source URL is required")
	}
	if c.Direct && !c.ForceFfmpeg {
		return ErrDirectNeedsFfmpeg
	}
	if c.SegmentSecs <= 0 {
		return errors.New("segment-secs must be positive")
	}
	if c.FileExtension == "" {
		return errors.New("file extension must not be empty")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	return nil
}
