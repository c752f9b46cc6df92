package downloader

import "github.com/whisper-darkly/hls-grabber/playlist"

// Format is the handling path for a stream, decided once at startup.
type Format int

const (
	// FormatNativeTS: segments are fetched and appended by the engine itself.
	FormatNativeTS Format = iota
	// FormatFfmpegMuxed: the stream is handed to the ffmpeg collaborator
	// (fragmented MP4, forced ffmpeg, direct mode, RTSP).
	FormatFfmpegMuxed
)

func (f Format) String() string {
	if f == FormatFfmpegMuxed {
		return "ffmpeg"
	}
	return "ts"
}

// DetectFormat decides the handling path from the first media playlist
// snapshot. Forced mode and fragmented MP4 go to ffmpeg; everything else is
// TS-native.
func DetectFormat(snap *playlist.Snapshot, force bool) Format {
	if force || snap == nil || snap.FMP4 {
		return FormatFfmpegMuxed
	}
	return FormatNativeTS
}
