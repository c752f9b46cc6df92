package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/metrics"
	"github.com/whisper-darkly/hls-grabber/playlist"
)

// ErrFailureBudget means the configured number of consecutive playlist
// fetch/parse failures was reached.
var ErrFailureBudget = errors.New("playlist failure budget exceeded")

type pollState int

const (
	stateFetching pollState = iota
	stateIdle
	stateDraining
	stateFailed
)

// poller is the media-playlist polling state machine. Each cycle fetches a
// fresh snapshot, emits segments past the monotonic cursor, and either
// drains (VOD done, end marker seen), idles until the next poll, or fails
// once the consecutive-failure budget is spent.
type poller struct {
	client   playlist.Fetcher
	mediaURL *url.URL
	interval time.Duration
	// maxFailures 0 means unlimited.
	maxFailures int

	cursor   playlist.Cursor
	failures int

	m   *metrics.Metrics
	log zerolog.Logger
}

// run drives the state machine until a terminal state, calling emit for every
// new segment in sequence order. Returns nil on Draining, ErrFailureBudget on
// Failed, and the context error on cancellation.
func (p *poller) run(ctx context.Context, emit func(context.Context, playlist.SegmentRef) error) error {
	state := stateFetching
	for {
		switch state {
		case stateFetching:
			snap, err := p.poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.failures++
				p.m.PollFailures.Inc()
				if p.maxFailures > 0 && p.failures >= p.maxFailures {
					state = stateFailed
					continue
				}
				p.log.Warn().
					Err(err).
					Int("consecutive", p.failures).
					Int("budget", p.maxFailures).
					Msg("playlist fetch failed")
				state = stateIdle
				continue
			}

			p.failures = 0
			fresh := p.cursor.Advance(snap)
			p.log.Debug().
				Int("new_segments", len(fresh)).
				Bool("live", snap.Live).
				Msg("playlist refreshed")

			for _, ref := range fresh {
				if err := emit(ctx, ref); err != nil {
					return err
				}
			}

			if !snap.Live {
				state = stateDraining
				continue
			}
			state = stateIdle

		case stateIdle:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.interval):
			}
			state = stateFetching

		case stateDraining:
			p.log.Info().Msg("stream ended")
			return nil

		case stateFailed:
			return fmt.Errorf("%w after %d consecutive failures", ErrFailureBudget, p.failures)
		}
	}
}

func (p *poller) poll(ctx context.Context) (*playlist.Snapshot, error) {
	p.m.PlaylistPolls.Inc()
	data, err := p.client.Fetch(ctx, p.mediaURL.String())
	if err != nil {
		return nil, err
	}
	return playlist.ParseMedia(data, p.mediaURL)
}
