package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"driftcast/internal/observability/logging"
)

// MediaProcessor abstracts the ffmpeg invocations so the worker can be tested
// without a real encoder.
type MediaProcessor interface {
	// TranscodeHLS renders the capture into an HLS ladder under outDir and
	// returns the master playlist path relative to outDir.
	TranscodeHLS(ctx context.Context, sourcePath, outDir string) (string, error)
	// ExtractThumbnail grabs a representative frame into thumbPath.
	ExtractThumbnail(ctx context.Context, sourcePath, thumbPath string) error
}

type rendition struct {
	name         string
	width        int
	height       int
	videoBitrate string
	audioBitrate string
	bandwidth    int
}

var hlsLadder = []rendition{
	{name: "720p", width: 1280, height: 720, videoBitrate: "2800k", audioBitrate: "128k", bandwidth: 3000000},
	{name: "480p", width: 854, height: 480, videoBitrate: "1400k", audioBitrate: "96k", bandwidth: 1600000},
}

const (
	masterPlaylist   = "master.m3u8"
	segmentDuration  = "4"
	defaultJobWindow = 30 * time.Minute
)

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	Binary  string
	Timeout time.Duration
	logger  *slog.Logger
}

// NewFFmpeg constructs a processor using the given binary path, defaulting to
// "ffmpeg" on PATH.
func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		Binary:  binary,
		Timeout: defaultJobWindow,
		logger:  logging.WithComponent(logger, "ffmpeg"),
	}
}

func (f *FFmpeg) TranscodeHLS(ctx context.Context, sourcePath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	for _, r := range hlsLadder {
		renditionDir := filepath.Join(outDir, r.name)
		if err := os.MkdirAll(renditionDir, 0o755); err != nil {
			return "", fmt.Errorf("create rendition dir: %w", err)
		}
		args := []string{
			"-hide_banner", "-y",
			"-i", sourcePath,
			"-vf", fmt.Sprintf("scale=-2:%d", r.height),
			"-c:v", "libx264", "-preset", "veryfast", "-b:v", r.videoBitrate,
			"-c:a", "aac", "-b:a", r.audioBitrate,
			"-hls_time", segmentDuration,
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", filepath.Join(renditionDir, "segment_%04d.ts"),
			filepath.Join(renditionDir, "index.m3u8"),
		}
		if err := f.run(ctx, args); err != nil {
			return "", fmt.Errorf("render %s: %w", r.name, err)
		}
	}
	if err := writeMasterPlaylist(outDir); err != nil {
		return "", err
	}
	return masterPlaylist, nil
}

func (f *FFmpeg) ExtractThumbnail(ctx context.Context, sourcePath, thumbPath string) error {
	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	args := []string{
		"-hide_banner", "-y",
		"-ss", "1",
		"-i", sourcePath,
		"-frames:v", "1",
		"-q:v", "3",
		thumbPath,
	}
	if err := f.run(ctx, args); err != nil {
		return fmt.Errorf("extract thumbnail: %w", err)
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultJobWindow
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	started := time.Now()
	err := cmd.Run()
	f.logger.Debug("ffmpeg finished", "duration", time.Since(started).Round(time.Millisecond), "error", err)
	if err != nil {
		return fmt.Errorf("%w: %s", err, tailLines(stderr.String(), 5))
	}
	return nil
}

func tailLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func writeMasterPlaylist(outDir string) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, r := range hlsLadder {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n", r.bandwidth, r.width, r.height, r.name)
		fmt.Fprintf(&b, "%s/index.m3u8\n", r.name)
	}
	if err := os.WriteFile(filepath.Join(outDir, masterPlaylist), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return nil
}
