package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/whisper-darkly/hls-grabber/downloader"
	"github.com/whisper-darkly/hls-grabber/logger"
	"github.com/whisper-darkly/hls-grabber/metrics"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	outputDir := flag.StringP("output", "o", envOrDefault("HLSGRAB_OUTPUT", "."), "Output directory")
	segmentSecs := flag.IntP("segment-secs", "s", envInt("HLSGRAB_SEGMENT_SECS", 3600), "Rotate output file after this many stream seconds")
	fileExtension := flag.String("file-extension", envOrDefault("HLSGRAB_FILE_EXTENSION", "ts"), "Output file extension")
	timeout := flag.Int("timeout", envInt("HLSGRAB_TIMEOUT", 15), "Total seconds for one fetch across all retries")
	retries := flag.Int("retries", envInt("HLSGRAB_RETRIES", 2), "Retries for failed requests (within the total timeout)")
	retryDelayMs := flag.Int("retry-delay-ms", envInt("HLSGRAB_RETRY_DELAY_MS", 500), "Delay in milliseconds between retry attempts")
	pollInterval := flag.Int("poll-interval", envInt("HLSGRAB_POLL_INTERVAL", 2), "Playlist poll interval in seconds (live streams)")
	maxFailures := flag.Int("max-failures", envInt("HLSGRAB_MAX_FAILURES", 2), "Consecutive playlist failures before giving up (0 = unlimited)")
	fetchAhead := flag.Int("fetch-ahead", envInt("HLSGRAB_FETCH_AHEAD", 1), "Concurrent segment fetches (write order is always preserved)")
	onSegment := flag.String("on-segment", envOrDefault("HLSGRAB_ON_SEGMENT", ""), "Command to run for each completed file ({} = file path)")
	onExit := flag.String("on-exit", envOrDefault("HLSGRAB_ON_EXIT", ""), "Command to run on exit (%d dir, %t duration, %s size, %b bytes, %m MB)")
	forceFfmpeg := flag.Bool("ffmpeg", false, "Force ffmpeg mode (e.g. audio-only streams)")
	direct := flag.Bool("direct", false, "Skip m3u8 parsing, pass URL directly to ffmpeg (requires --ffmpeg)")
	insecure := flag.Bool("insecure", false, "Disable HTTPS certificate verification")
	username := flag.String("username", "", "Username for RTSP authentication")
	password := flag.String("password", "", "Password for RTSP authentication")
	abortOnSegErr := flag.Bool("abort-on-segment-error", false, "Abort the session when a segment exhausts its retries (default: skip)")
	progress := flag.Bool("progress", false, "Show progress dots")
	verbose := flag.BoolP("verbose", "v", false, "Show verbose logs")
	logFormat := flag.String("log-format", envOrDefault("HLSGRAB_LOG_FORMAT", "console"), "Log format: console, json")
	metricsAddr := flag.String("metrics-addr", envOrDefault("HLSGRAB_METRICS_ADDR", ""), "Serve Prometheus metrics on this address (empty = disabled)")
	showVersion := flag.BoolP("version", "V", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hls-grabber %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <m3u8-or-rtsp-url>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Download m3u8 streams to time-chunked video files.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes: 0=ok  1=error  2=failure budget exceeded\n")
	}

	if len(os.Args) == 1 {
		flag.Usage()
		os.Exit(0)
	}

	flag.Parse()

	if *showVersion {
		fmt.Println("hls-grabber", version)
		os.Exit(0)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger.Configure(logger.Config{Level: level, Format: *logFormat})
	log := logger.WithComponent("main")

	cfg := downloader.Config{
		URL:                 flag.Arg(0),
		OutputDir:           *outputDir,
		SegmentSecs:         *segmentSecs,
		FileExtension:       *fileExtension,
		Timeout:             time.Duration(*timeout) * time.Second,
		Retries:             *retries,
		RetryDelay:          time.Duration(*retryDelayMs) * time.Millisecond,
		PollInterval:        time.Duration(*pollInterval) * time.Second,
		MaxFailures:         *maxFailures,
		FetchAhead:          *fetchAhead,
		OnSegment:           *onSegment,
		OnExit:              *onExit,
		ForceFfmpeg:         *forceFfmpeg,
		Direct:              *direct,
		Insecure:            *insecure,
		Username:            *username,
		Password:            *password,
		AbortOnSegmentError: *abortOnSegErr,
		Progress:            *progress,
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	m := metrics.New()
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, m.Handler()); err != nil {
				log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	sess := downloader.NewSession(cfg, m)
	err := sess.Run(ctx)
	sess.Finish()

	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, downloader.ErrFailureBudget):
		log.Error().Err(err).Msg("giving up on stream")
		os.Exit(2)
	default:
		log.Error().Err(err).Msg("session failed")
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
