// Package downloader is the download engine: it resolves the media variant,
// polls the playlist, fetches segments, and writes them to time-rotated
// output files, dispatching hooks along the way.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/whisper-darkly/hls-grabber/fetch"
	"github.com/whisper-darkly/hls-grabber/hook"
	"github.com/whisper-darkly/hls-grabber/logger"
	"github.com/whisper-darkly/hls-grabber/metrics"
	"github.com/whisper-darkly/hls-grabber/mux"
	"github.com/whisper-darkly/hls-grabber/output"
	"github.com/whisper-darkly/hls-grabber/playlist"
	"github.com/whisper-darkly/hls-grabber/units"
)

// hookDrainTimeout caps how long exit waits for detached on-segment hooks.
const hookDrainTimeout = 60 * time.Second

// Session is one recording: resolve, poll, fetch, write, hooks. Create with
// NewSession, drive with Run, and always call Finish afterward — Finish owns
// the shutdown contract (hook drain + on-exit), which is identical for clean
// ends, failure-budget ends, and interrupts.
type Session struct {
	cfg    Config
	client *fetch.Client
	hooks  *hook.Dispatcher
	stats  *output.Stats
	m      *metrics.Metrics
	log    zerolog.Logger
}

// NewSession wires a session from an already-validated config.
func NewSession(cfg Config, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.New()
	}
	budget := fetch.Budget{
		TotalTimeout: cfg.Timeout,
		MaxAttempts:  cfg.Retries + 1,
		Delay:        cfg.RetryDelay,
	}
	return &Session{
		cfg:    cfg,
		client: fetch.NewClient(budget, cfg.Insecure),
		hooks:  hook.NewDispatcher(cfg.OnSegment, cfg.OnExit, m),
		stats:  output.NewStats(),
		m:      m,
		log:    logger.WithComponent("downloader"),
	}
}

// Run executes the session until the stream ends, the failure budget is
// exceeded, a fatal error occurs, or ctx is canceled. Cancellation is a clean
// end and returns nil.
func (s *Session) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// RTSP and direct mode bypass playlist handling entirely.
	if mux.IsRTSP(s.cfg.URL) || s.cfg.Direct {
		return s.runMux(ctx, s.cfg.URL)
	}

	mediaURL, err := playlist.ResolveMediaURL(ctx, s.client, s.cfg.URL)
	if err != nil {
		return fmt.Errorf("resolve media playlist: %w", err)
	}
	s.log.Debug().Str("media_url", mediaURL.String()).Msg("resolved media playlist")

	format := FormatFfmpegMuxed
	if !s.cfg.ForceFfmpeg {
		snap, err := s.probe(ctx, mediaURL)
		if err != nil {
			return fmt.Errorf("detect stream format: %w", err)
		}
		format = DetectFormat(snap, false)
	}
	s.log.Info().Stringer("format", format).Msg("stream format selected")

	if format == FormatFfmpegMuxed {
		return s.runMux(ctx, mediaURL.String())
	}
	return s.runNative(ctx, mediaURL)
}

// Finish drains pending on-segment hooks and runs the on-exit hook exactly
// once with the final stats. Call on every exit path, fatal errors included.
func (s *Session) Finish() {
	s.hooks.Drain(hookDrainTimeout)
	snap := s.stats.Snapshot()
	s.log.Info().
		Str("duration", units.FormatDuration(time.Since(snap.Start))).
		Str("size", units.FormatSize(snap.Bytes)).
		Msg("session finished")
	s.hooks.OnExit(snap, s.cfg.OutputDir)
}

// probe fetches the media playlist once so the format selector can inspect
// it. The poller starts fresh afterward; the monotonic cursor makes the
// duplicate fetch harmless.
func (s *Session) probe(ctx context.Context, mediaURL *url.URL) (*playlist.Snapshot, error) {
	data, err := s.client.Fetch(ctx, mediaURL.String())
	if err != nil {
		return nil, err
	}
	return playlist.ParseMedia(data, mediaURL)
}

func (s *Session) runMux(ctx context.Context, sourceURL string) error {
	runner := mux.NewRunner(mux.Job{
		SourceURL:   sourceURL,
		OutputDir:   s.cfg.OutputDir,
		Extension:   s.cfg.FileExtension,
		SegmentSecs: s.cfg.SegmentSecs,
		Username:    s.cfg.Username,
		Password:    s.cfg.Password,
	}, s.hooks, s.stats, s.m)
	return runner.Run(ctx)
}

// segmentResult pairs a SegmentRef with its fetched bytes or final error.
type segmentResult struct {
	ref  playlist.SegmentRef
	data []byte
	err  error
}

// runNative is the TS pipeline: poller → bounded fetch stage → reorder
// buffer → writer. The writer is the only holder of the output file and
// consumes results strictly in sequence-number order, whatever order the
// fetch stage completes in.
func (s *Session) runNative(ctx context.Context, mediaURL *url.URL) error {
	out, err := output.New(s.cfg.OutputDir, s.cfg.FileExtension, s.cfg.SegmentSecs, s.stats)
	if err != nil {
		return err
	}

	workers := s.cfg.FetchAhead
	if workers < 1 {
		workers = 1
	}

	refs := make(chan playlist.SegmentRef, workers)
	results := make(chan segmentResult, workers)
	// order carries the expected write sequence; sized so the poller never
	// blocks on it while the fetch stage still has capacity.
	order := make(chan uint64, 4*workers+16)

	g, gctx := errgroup.WithContext(ctx)

	p := &poller{
		client:      s.client,
		mediaURL:    mediaURL,
		interval:    s.cfg.PollInterval,
		maxFailures: s.cfg.MaxFailures,
		m:           s.m,
		log:         logger.WithComponent("poller"),
	}

	g.Go(func() error {
		defer close(refs)
		defer close(order)
		return p.run(gctx, func(ctx context.Context, ref playlist.SegmentRef) error {
			select {
			case order <- ref.Seq:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case refs <- ref:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	})

	var fetchers sync.WaitGroup
	fetchers.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			defer fetchers.Done()
			return s.fetchLoop(gctx, refs, results)
		})
	}
	go func() {
		fetchers.Wait()
		close(results)
	}()

	g.Go(func() error {
		return s.writeLoop(gctx, order, results, out)
	})

	runErr := g.Wait()

	// Unified shutdown: flush and close the open file on every path, then
	// hand it to the on-segment hook. Only after that does the caller run
	// the on-exit hook via Finish.
	if final, ferr := out.Finalize(); ferr == nil {
		s.log.Info().Str("file", final).Msg("flushed current output file")
		s.hooks.OnSegment(final)
	} else if !errors.Is(ferr, output.ErrClosed) {
		s.log.Error().Err(ferr).Msg("finalize output file")
		if runErr == nil {
			runErr = ferr
		}
	}

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return nil // external interrupt is a clean end
	}
	return runErr
}

// fetchLoop is one fetch-stage worker. Fetch failures are reported in the
// result, not as a worker error; the writer applies the failure policy.
func (s *Session) fetchLoop(ctx context.Context, refs <-chan playlist.SegmentRef, results chan<- segmentResult) error {
	for ref := range refs {
		data, err := s.client.Fetch(ctx, ref.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.m.SegmentFailures.Inc()
		} else {
			s.m.SegmentsFetched.Inc()
			s.m.SegmentBytes.Add(float64(len(data)))
			s.log.Debug().
				Uint64("seq", ref.Seq).
				Int("bytes", len(data)).
				Msg("segment fetched")
		}
		select {
		case results <- segmentResult{ref: ref, data: data, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// writeLoop consumes results strictly in the order the poller emitted them,
// buffering out-of-order completions by sequence number.
func (s *Session) writeLoop(ctx context.Context, order <-chan uint64, results <-chan segmentResult, out *output.File) error {
	pending := make(map[uint64]segmentResult)

	for seq := range order {
		res, ok := pending[seq]
		for !ok {
			select {
			case r, open := <-results:
				if !open {
					// Fetch stage shut down mid-stream; nothing more to write.
					return nil
				}
				pending[r.ref.Seq] = r
				res, ok = pending[seq]
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		delete(pending, seq)

		if res.err != nil {
			// A failed fetch contributes zero bytes, never a truncated
			// buffer. Losing one segment should not forfeit the recording.
			if s.cfg.AbortOnSegmentError {
				return fmt.Errorf("segment %d: %w", seq, res.err)
			}
			s.log.Warn().Uint64("seq", seq).Err(res.err).Msg("segment fetch failed, skipping")
			continue
		}

		if s.cfg.Progress {
			fmt.Fprint(os.Stderr, ".")
		}

		rotated, err := out.WriteSegment(res.data, res.ref.Duration)
		if err != nil {
			return err
		}
		if rotated != "" {
			s.m.Rotations.Inc()
			s.hooks.OnSegment(rotated)
		}
	}
	return nil
}
