// Package mux hands streams the engine does not parse itself (fragmented
// MP4, forced/direct mode, RTSP) to an ffmpeg subprocess, and tracks the
// files it produces through filesystem notifications.
package mux

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/hook"
	"github.com/whisper-darkly/hls-grabber/logger"
	"github.com/whisper-darkly/hls-grabber/metrics"
	"github.com/whisper-darkly/hls-grabber/output"
)

// Job describes one ffmpeg handoff.
type Job struct {
	SourceURL   string
	OutputDir   string
	Extension   string
	SegmentSecs int

	// RTSP credentials; ignored for HTTP sources.
	Username string
	Password string
}

// Runner drives one ffmpeg subprocess writing time-segmented output files.
type Runner struct {
	job   Job
	hooks *hook.Dispatcher
	stats *output.Stats
	m     *metrics.Metrics
	log   zerolog.Logger
}

// NewRunner creates a Runner for job.
func NewRunner(job Job, hooks *hook.Dispatcher, stats *output.Stats, m *metrics.Metrics) *Runner {
	return &Runner{
		job:   job,
		hooks: hooks,
		stats: stats,
		m:     m,
		log:   logger.WithComponent("mux"),
	}
}

// IsRTSP reports whether rawURL is an RTSP(S) source.
func IsRTSP(rawURL string) bool {
	return strings.HasPrefix(rawURL, "rtsp://") || strings.HasPrefix(rawURL, "rtsps://")
}

// Run launches ffmpeg and blocks until the stream ends, ffmpeg fails, or ctx
// is canceled (graceful SIGTERM, then SIGKILL). Completed segment files are
// detected by watching the output directory, not by trusting the subprocess
// exit, because the muxer writes asynchronously.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	startTS := time.Now().Format(output.TimestampLayout)
	startIndex := 0
	for {
		path := filepath.Join(r.job.OutputDir, fmt.Sprintf("%s_%d.%s", startTS, startIndex, r.job.Extension))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		startIndex++
	}
	pattern := filepath.Join(r.job.OutputDir, fmt.Sprintf("%s_%%d.%s", startTS, r.job.Extension))

	watcher, err := newSegmentWatcher(r.job.OutputDir, startTS+"_", "."+r.job.Extension, r.hooks, r.stats, r.m, r.log)
	if err != nil {
		// Degraded but not fatal: the recording still happens, only hook
		// dispatch and byte accounting for ffmpeg output are lost.
		r.log.Warn().Err(err).Msg("cannot watch output directory; on-segment hooks disabled for this stream")
	} else {
		defer watcher.close()
		go watcher.run(ctx)
	}

	args := r.ffmpegArgs(startIndex, pattern)
	r.log.Info().Str("source", r.job.SourceURL).Str("pattern", pattern).Msg("handing stream to ffmpeg")
	r.log.Debug().Str("args", strings.Join(args, " ")).Msg("ffmpeg command")

	cmd := exec.Command("ffmpeg", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = r.log

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			terminateProcess(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if watcher != nil {
		watcher.finalize()
	}

	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg: %w", waitErr)
	}
	return nil
}

func (r *Runner) ffmpegArgs(startIndex int, pattern string) []string {
	args := []string{"-y", "-hide_banner", "-v", "error"}

	input := r.job.SourceURL
	if IsRTSP(input) {
		args = append(args, "-rtsp_transport", "tcp")
		input = withCredentials(input, r.job.Username, r.job.Password)
	}

	args = append(args,
		"-i", input,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(r.job.SegmentSecs),
		"-segment_start_number", strconv.Itoa(startIndex),
		"-max_muxing_queue_size", "512",
		pattern,
	)
	return args
}

// withCredentials embeds RTSP credentials in the URL. ffmpeg reads userinfo
// from the URL itself.
func withCredentials(rawURL, username, password string) string {
	if username == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if password != "" {
		u.User = url.UserPassword(username, password)
	} else {
		u.User = url.User(username)
	}
	return u.String()
}

// terminateProcess sends SIGTERM then SIGKILL to the ffmpeg process group so
// the muxer gets a chance to close its current output file.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(2 * time.Second)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
