package playlist

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/grafov/m3u8"
)

// SegmentRef identifies one media segment within a playlist snapshot.
type SegmentRef struct {
	URL           string // absolute
	Seq           uint64
	Duration      float64 // nominal seconds
	Discontinuity bool
}

// Snapshot is one immutable parse of a media playlist. Each poll produces a
// fresh Snapshot; snapshots are never mutated.
type Snapshot struct {
	Segments       []SegmentRef
	Live           bool // no EXT-X-ENDLIST marker
	TargetDuration float64
	FMP4           bool // EXT-X-MAP present (fragmented MP4)
}

// ParseMedia decodes a media playlist body, resolving segment URIs against
// base and assigning sequence numbers from EXT-X-MEDIA-SEQUENCE.
func ParseMedia(data []byte, base *url.URL) (*Snapshot, error) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("%w: expected media playlist", ErrParse)
	}
	media, ok := p.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected playlist type", ErrParse)
	}

	snap := &Snapshot{
		Live:           !media.Closed,
		TargetDuration: media.TargetDuration,
		FMP4:           media.Map != nil,
	}

	i := uint64(0)
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Map != nil {
			snap.FMP4 = true
		}
		resolved, err := base.Parse(seg.URI)
		if err != nil {
			return nil, fmt.Errorf("resolve segment uri %q: %w", seg.URI, err)
		}
		snap.Segments = append(snap.Segments, SegmentRef{
			URL:           resolved.String(),
			Seq:           media.SeqNo + i,
			Duration:      seg.Duration,
			Discontinuity: seg.Discontinuity,
		})
		i++
	}

	return snap, nil
}

// Cursor tracks the highest sequence number emitted so far, so repeated polls
// of a sliding-window playlist yield each segment exactly once.
type Cursor struct {
	next    uint64
	started bool
}

// Advance returns the snapshot's segments with sequence numbers not yet
// emitted, in order, and moves the cursor past them.
func (c *Cursor) Advance(snap *Snapshot) []SegmentRef {
	var fresh []SegmentRef
	for _, ref := range snap.Segments {
		if c.started && ref.Seq < c.next {
			continue
		}
		fresh = append(fresh, ref)
		c.next = ref.Seq + 1
		c.started = true
	}
	return fresh
}
