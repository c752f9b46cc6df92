package mux

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/hook"
	"github.com/whisper-darkly/hls-grabber/metrics"
	"github.com/whisper-darkly/hls-grabber/output"
)

// segmentWatcher observes the output directory for files written by the
// ffmpeg segment muxer. There is no portable close-write notification, so a
// segment counts as complete when the muxer creates the next one; the last
// segment is finalized explicitly when ffmpeg exits.
type segmentWatcher struct {
	w      *fsnotify.Watcher
	prefix string // "<start_ts>_" of this run
	suffix string // ".<ext>"

	hooks *hook.Dispatcher
	stats *output.Stats
	m     *metrics.Metrics
	log   zerolog.Logger

	mu   sync.Mutex
	last string // most recently created, not yet finalized
}

func newSegmentWatcher(dir, prefix, suffix string, hooks *hook.Dispatcher, stats *output.Stats, m *metrics.Metrics, log zerolog.Logger) (*segmentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &segmentWatcher{
		w:      w,
		prefix: prefix,
		suffix: suffix,
		hooks:  hooks,
		stats:  stats,
		m:      m,
		log:    log,
	}, nil
}

func (s *segmentWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.w.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) && s.matches(event.Name) {
				s.advance(event.Name)
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (s *segmentWatcher) matches(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, s.prefix) && strings.HasSuffix(base, s.suffix)
}

// advance marks newFile as the in-progress segment and completes the one
// before it.
func (s *segmentWatcher) advance(newFile string) {
	s.mu.Lock()
	prev := s.last
	s.last = newFile
	s.mu.Unlock()

	if prev != "" && prev != newFile {
		s.complete(prev)
	}
}

// finalize completes the segment ffmpeg was writing when it exited.
func (s *segmentWatcher) finalize() {
	s.mu.Lock()
	last := s.last
	s.last = ""
	s.mu.Unlock()

	if last != "" {
		s.complete(last)
	}
}

func (s *segmentWatcher) complete(path string) {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	s.stats.AddBytes(size)
	s.m.SegmentBytes.Add(float64(size))
	s.m.Rotations.Inc()
	s.log.Info().Str("file", path).Int64("bytes", size).Msg("ffmpeg segment completed")
	s.hooks.OnSegment(path)
}

func (s *segmentWatcher) close() {
	s.w.Close()
}
