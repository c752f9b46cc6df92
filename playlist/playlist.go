// Package playlist parses m3u8 documents: master-playlist resolution with
// best-variant selection, and media-playlist snapshots with a monotonic
// segment cursor.
package playlist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

var (
	// ErrNoVariants means a master playlist parsed but declares no variants.
	ErrNoVariants = errors.New("no variants in master playlist")
	// ErrParse means the document is not valid m3u8.
	ErrParse = errors.New("malformed playlist")
)

// Fetcher retrieves one URL's body. Satisfied by *fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ResolveMediaURL fetches rawURL and returns the media playlist URL to poll.
// A master playlist resolves to its best variant; a media playlist
// short-circuits and returns rawURL unchanged.
func ResolveMediaURL(ctx context.Context, f Fetcher, rawURL string) (*url.URL, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if listType != m3u8.MASTER {
		return base, nil
	}

	master, ok := p.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected playlist type", ErrParse)
	}

	best, err := SelectVariant(master)
	if err != nil {
		return nil, err
	}
	resolved, err := base.Parse(best.URI)
	if err != nil {
		return nil, fmt.Errorf("resolve variant uri %q: %w", best.URI, err)
	}
	return resolved, nil
}

// SelectVariant picks the best variant: largest resolution area first,
// highest frame rate as tiebreak. A variant without resolution metadata ranks
// below any variant with it; a full tie keeps the first-listed variant.
func SelectVariant(master *m3u8.MasterPlaylist) (*m3u8.Variant, error) {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		if best == nil || better(v, best) {
			best = v
		}
	}
	if best == nil {
		return nil, ErrNoVariants
	}
	return best, nil
}

// better reports whether a strictly outranks b. Strict comparison keeps the
// first-listed variant on ties.
func better(a, b *m3u8.Variant) bool {
	areaA, areaB := variantArea(a), variantArea(b)
	if areaA != areaB {
		return areaA > areaB
	}
	return variantFPS(a) > variantFPS(b)
}

// variantArea returns width*height, or 0 when the RESOLUTION attribute is
// absent or unparsable.
func variantArea(v *m3u8.Variant) int64 {
	parts := strings.Split(v.Resolution, "x")
	if len(parts) != 2 {
		return 0
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w < 0 || h < 0 {
		return 0
	}
	return int64(w) * int64(h)
}

// variantFPS returns the FRAME-RATE attribute, falling back to a
// "FPS:<n>" token inside the NAME attribute that some origins use instead.
func variantFPS(v *m3u8.Variant) float64 {
	if v.FrameRate > 0 {
		return v.FrameRate
	}
	return fpsFromName(v.Name)
}

func fpsFromName(name string) float64 {
	const marker = "FPS:"
	i := strings.Index(name, marker)
	if i < 0 {
		return 0
	}
	rest := name[i+len(marker):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	fps, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0
	}
	return fps
}
