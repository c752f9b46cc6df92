package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		URL:           "https://cdn.example.com/live/master.m3u8",
		OutputDir:     "/tmp/out",
		SegmentSecs:   3600,
		FileExtension: "ts",
		Timeout:       30 * time.Second,
		Retries:       2,
		RetryDelay:    time.Second,
		PollInterval:  2 * time.Second,
		FetchAhead:    3,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.URL = "" }},
		{"zero segment secs", func(c *Config) { c.SegmentSecs = 0 }},
		{"negative segment secs", func(c *Config) { c.SegmentSecs = -5 }},
		{"empty extension", func(c *Config) { c.FileExtension = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfigDirectRequiresFfmpeg(t *testing.T) {
	cfg := validConfig()
	cfg.Direct = true
	require.ErrorIs(t, cfg.Validate(), ErrDirectNeedsFfmpeg)

	cfg.ForceFfmpeg = true
	require.NoError(t, cfg.Validate())
}
