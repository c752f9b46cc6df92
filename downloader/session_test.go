package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/hls-grabber/metrics"
)

// streamServer serves a master playlist, a scripted media playlist, and
// deterministic segment bodies. Segments listed in failSeg always 404.
type streamServer struct {
	*httptest.Server
	mediaPolls atomic.Int32
	media      func(poll int32) ([]byte, int)
	failSeg    map[int]bool
}

func segmentBody(seq int) []byte {
	return []byte(fmt.Sprintf("SEG%d|", seq))
}

func newStreamServer(t *testing.T, media func(poll int32) ([]byte, int), failSeg ...int) *streamServer {
	t.Helper()
	s := &streamServer{media: media, failSeg: make(map[int]bool)}
	for _, seq := range failSeg {
		s.failSeg[seq] = true
	}

	handler := http.NewServeMux()
	handler.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n"+
			"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2000000,RESOLUTION=1280x720\n"+
			"media.m3u8\n")
	})
	handler.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		body, status := s.media(s.mediaPolls.Add(1))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write(body)
	})
	handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var seq int
		if _, err := fmt.Sscanf(r.URL.Path, "/seg%d.ts", &seq); err != nil || s.failSeg[seq] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(segmentBody(seq))
	})

	s.Server = httptest.NewServer(handler)
	t.Cleanup(s.Close)
	return s
}

func sessionConfig(t *testing.T, url string) Config {
	t.Helper()
	return Config{
		URL:           url,
		OutputDir:     t.TempDir(),
		SegmentSecs:   3600,
		FileExtension: "ts",
		Timeout:       2 * time.Second,
		Retries:       1,
		RetryDelay:    time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		MaxFailures:   5,
		FetchAhead:    3,
	}
}

func singleOutputFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(dir, entries[0].Name())
}

func TestSessionRecordsLiveStreamToEnd(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		// Poll 1 is the format probe. The stream then grows from two
		// segments to four and ends.
		switch {
		case poll <= 2:
			return mediaDoc(0, 2, false), http.StatusOK
		default:
			return mediaDoc(0, 4, true), http.StatusOK
		}
	})

	cfg := sessionConfig(t, srv.URL+"/master.m3u8")
	sess := NewSession(cfg, metrics.New())
	require.NoError(t, sess.Run(t.Context()))
	sess.Finish()

	data, err := os.ReadFile(singleOutputFile(t, cfg.OutputDir))
	require.NoError(t, err)
	require.Equal(t, "SEG0|SEG1|SEG2|SEG3|", string(data))
}

func TestSessionOrdersConcurrentFetches(t *testing.T) {
	const segments = 24
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		if poll <= 1 {
			return mediaDoc(0, 1, false), http.StatusOK
		}
		return mediaDoc(0, segments, true), http.StatusOK
	})

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	cfg.FetchAhead = 8
	sess := NewSession(cfg, metrics.New())
	require.NoError(t, sess.Run(t.Context()))
	sess.Finish()

	want := ""
	for i := 0; i < segments; i++ {
		want += string(segmentBody(i))
	}
	data, err := os.ReadFile(singleOutputFile(t, cfg.OutputDir))
	require.NoError(t, err)
	require.Equal(t, want, string(data))
}

func TestSessionFailureBudgetExceeded(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		// Resolve and probe see a live stream, then the origin dies.
		if poll <= 2 {
			return mediaDoc(0, 1, false), http.StatusOK
		}
		return nil, http.StatusInternalServerError
	})

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	cfg.Retries = 0
	cfg.MaxFailures = 2
	cfg.PollInterval = 2 * time.Millisecond

	sess := NewSession(cfg, metrics.New())
	err := sess.Run(t.Context())
	require.ErrorIs(t, err, ErrFailureBudget)
	sess.Finish()
}

func TestSessionSkipsFailedSegment(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		if poll <= 1 {
			return mediaDoc(0, 1, false), http.StatusOK
		}
		return mediaDoc(0, 3, true), http.StatusOK
	}, 1) // seg1 vanished from the origin

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	sess := NewSession(cfg, metrics.New())
	require.NoError(t, sess.Run(t.Context()))
	sess.Finish()

	data, err := os.ReadFile(singleOutputFile(t, cfg.OutputDir))
	require.NoError(t, err)
	require.Equal(t, "SEG0|SEG2|", string(data))
}

func TestSessionAbortOnSegmentError(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		if poll <= 1 {
			return mediaDoc(0, 1, false), http.StatusOK
		}
		return mediaDoc(0, 3, true), http.StatusOK
	}, 1)

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	cfg.AbortOnSegmentError = true
	sess := NewSession(cfg, metrics.New())
	err := sess.Run(t.Context())
	require.Error(t, err)
	sess.Finish()
}

func TestSessionInterruptIsCleanEnd(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		return mediaDoc(0, 2, false), http.StatusOK
	})

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	sess := NewSession(cfg, metrics.New())
	require.NoError(t, sess.Run(ctx))
	sess.Finish()

	data, err := os.ReadFile(singleOutputFile(t, cfg.OutputDir))
	require.NoError(t, err)
	require.Equal(t, "SEG0|SEG1|", string(data))
}

func TestSessionHooksObserveCompletedFiles(t *testing.T) {
	srv := newStreamServer(t, func(poll int32) ([]byte, int) {
		if poll <= 1 {
			return mediaDoc(0, 1, false), http.StatusOK
		}
		return mediaDoc(0, 4, true), http.StatusOK
	})

	hookDir := t.TempDir()
	collected := filepath.Join(hookDir, "collected.txt")
	exits := filepath.Join(hookDir, "exits.txt")

	cfg := sessionConfig(t, srv.URL+"/media.m3u8")
	cfg.OnSegment = "cat {} >> " + collected
	cfg.OnExit = "echo %b >> " + exits

	sess := NewSession(cfg, metrics.New())
	require.NoError(t, sess.Run(t.Context()))
	sess.Finish()
	sess.Finish() // second call must not rerun the exit hook

	// The on-segment hook saw the flushed, closed file.
	data, err := os.ReadFile(collected)
	require.NoError(t, err)
	require.Equal(t, "SEG0|SEG1|SEG2|SEG3|", string(data))

	// 4 segments of 5 bytes each; the exit hook ran once.
	exitData, err := os.ReadFile(exits)
	require.NoError(t, err)
	require.Equal(t, "20\n", string(exitData))
}

func TestSessionResolveFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := sessionConfig(t, srv.URL+"/gone.m3u8")
	cfg.Retries = 0
	sess := NewSession(cfg, metrics.New())
	err := sess.Run(t.Context())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrFailureBudget)
	sess.Finish()
}
