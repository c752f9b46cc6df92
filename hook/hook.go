// Package hook runs the user-supplied shell commands on segment completion
// and on session exit. Substitution covers a fixed placeholder set per hook
// kind; this is intentionally not a templating engine.
package hook

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/logger"
	"github.com/whisper-darkly/hls-grabber/metrics"
	"github.com/whisper-darkly/hls-grabber/output"
	"github.com/whisper-darkly/hls-grabber/units"
)

// Dispatcher holds the immutable hook templates for one session.
type Dispatcher struct {
	onSegment string
	onExit    string
	m         *metrics.Metrics
	log       zerolog.Logger

	pending  sync.WaitGroup
	exitOnce sync.Once
}

// NewDispatcher creates a Dispatcher. Empty templates disable the
// corresponding hook.
func NewDispatcher(onSegment, onExit string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		onSegment: onSegment,
		onExit:    onExit,
		m:         m,
		log:       logger.WithComponent("hook"),
	}
}

// OnSegment launches the on-segment command for a completed file, with {}
// replaced by its path. Fire-and-forget: the download loop is not blocked and
// the command's outcome is not observed beyond a log line.
func (d *Dispatcher) OnSegment(path string) {
	if d.onSegment == "" {
		return
	}
	cmdline := strings.ReplaceAll(d.onSegment, "{}", path)
	d.m.HooksLaunched.Inc()
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		d.run(cmdline)
	}()
}

// Drain waits for detached on-segment commands to finish, up to timeout.
// Reports whether everything completed in time.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.log.Warn().Dur("timeout", timeout).Msg("pending on-segment hooks did not finish in time")
		return false
	}
}

// OnExit runs the on-exit command synchronously, exactly once, with the
// session summary substituted. Every exit path calls it; only the first call
// executes.
func (d *Dispatcher) OnExit(snap output.Snapshot, outputDir string) {
	d.exitOnce.Do(func() {
		if d.onExit == "" {
			return
		}
		cmdline := expandExit(d.onExit, outputDir, time.Since(snap.Start), snap.Bytes)
		d.run(cmdline)
	})
}

// expandExit substitutes the on-exit placeholder set:
//
//	%d  output directory (last two path components)
//	%t  wall-clock duration, H:MM:SS or M:SS
//	%s  human-readable total size
//	%b  raw byte count
//	%m  whole mebibytes
func expandExit(template, outputDir string, elapsed time.Duration, bytes int64) string {
	r := strings.NewReplacer(
		"%d", lastTwoComponents(outputDir),
		"%t", units.FormatClock(elapsed),
		"%s", units.FormatSize(bytes),
		"%b", strconv.FormatInt(bytes, 10),
		"%m", strconv.FormatInt(bytes/1024/1024, 10),
	)
	return r.Replace(template)
}

func lastTwoComponents(dir string) string {
	clean := filepath.Clean(dir)
	parent := filepath.Dir(clean)
	if parent == "." || parent == string(filepath.Separator) || parent == clean {
		return filepath.Base(clean)
	}
	return filepath.Join(filepath.Base(parent), filepath.Base(clean))
}

func (d *Dispatcher) run(cmdline string) {
	d.log.Debug().Str("cmd", cmdline).Msg("running hook")
	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Stdout = d.log
	cmd.Stderr = d.log
	if err := cmd.Run(); err != nil {
		d.log.Warn().Str("cmd", cmdline).Err(err).Msg("hook command failed")
	}
}
