// Package output owns the current output file: sequential segment appends,
// time-based rotation, and session statistics.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/logger"
)

// TimestampLayout names output files: <start_ts>_<index>.<ext>.
const TimestampLayout = "2006_01_02-15_04"

// ErrClosed is returned on writes after Finalize.
var ErrClosed = errors.New("output file already finalized")

// File is the single writable output file. Exactly one is open at a time;
// rotation closes the old file before the new one is handed out, so a path
// given to a hook is never still open for writing.
type File struct {
	dir     string
	ext     string
	startTS string // fixed at stream start, not per rotation
	index   int

	f           *os.File
	path        string
	accumulated float64 // stream-reported seconds in the current file
	limit       float64

	stats *Stats
	log   zerolog.Logger
}

// New creates the output directory if needed and opens the first output file.
// The index starts at the first free slot so an earlier recording with the
// same start timestamp is never overwritten.
func New(dir, ext string, segmentSecs int, stats *Stats) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	o := &File{
		dir:     dir,
		ext:     ext,
		startTS: time.Now().Format(TimestampLayout),
		limit:   float64(segmentSecs),
		stats:   stats,
		log:     logger.WithComponent("output"),
	}

	for {
		if _, err := os.Stat(o.currentPath()); os.IsNotExist(err) {
			break
		}
		o.index++
	}

	if err := o.open(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *File) currentPath() string {
	return filepath.Join(o.dir, fmt.Sprintf("%s_%d.%s", o.startTS, o.index, o.ext))
}

// Path returns the path of the currently open file.
func (o *File) Path() string { return o.path }

func (o *File) open() error {
	path := o.currentPath()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	o.f = f
	o.path = path
	o.accumulated = 0
	o.log.Debug().Str("file", path).Msg("writing to output file")
	return nil
}

// WriteSegment appends one fetched segment and accounts its stream duration.
// When the segment would push the file past the configured limit, the current
// file is closed first and its path returned; the caller dispatches the
// on-segment hook for it. Rotation never leaves an empty completed file.
func (o *File) WriteSegment(data []byte, duration float64) (rotated string, err error) {
	if o.f == nil {
		return "", ErrClosed
	}

	if o.accumulated > 0 && o.accumulated+duration >= o.limit {
		rotated, err = o.rotate()
		if err != nil {
			return "", err
		}
	}

	if _, err := o.f.Write(data); err != nil {
		return rotated, fmt.Errorf("write %s: %w", o.path, err)
	}
	o.accumulated += duration
	o.stats.AddBytes(int64(len(data)))
	o.stats.AddStreamSeconds(duration)
	return rotated, nil
}

func (o *File) rotate() (string, error) {
	completed, err := o.closeCurrent()
	if err != nil {
		return "", err
	}
	o.index++
	if err := o.open(); err != nil {
		return "", err
	}
	o.log.Info().
		Str("completed", completed).
		Str("next", o.path).
		Msg("rotated output file")
	return completed, nil
}

func (o *File) closeCurrent() (string, error) {
	if err := o.f.Sync(); err != nil {
		o.f.Close()
		return "", fmt.Errorf("flush %s: %w", o.path, err)
	}
	if err := o.f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", o.path, err)
	}
	o.f = nil
	return o.path, nil
}

// Finalize flushes and closes the current file and returns its path. Safe to
// call once on every shutdown path; later calls return ErrClosed.
func (o *File) Finalize() (string, error) {
	if o.f == nil {
		return "", ErrClosed
	}
	return o.closeCurrent()
}
