package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FrameProcessor grabs still frames from video files using ffmpeg.
type FrameProcessor struct {
	ffmpegPath string
}

// NewFrameProcessor creates a frame processor.
// It will attempt to find ffmpeg in PATH.
func NewFrameProcessor() (*FrameProcessor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &FrameProcessor{ffmpegPath: ffmpegPath}, nil
}

// NewFrameProcessorAt uses an explicit ffmpeg binary.
func NewFrameProcessorAt(path string) *FrameProcessor {
	return &FrameProcessor{ffmpegPath: path}
}

// FrameConfig configures a single frame grab.
type FrameConfig struct {
	AtSeconds float64 // Seek position (default: 1)
	Width     int     // Output width, height keeps aspect (default: 320)
	Quality   int     // JPEG quality 1-31, lower is better (default: 5)
}

// ExtractFrame writes one JPEG frame of videoPath to outputPath.
func (p *FrameProcessor) ExtractFrame(ctx context.Context, videoPath, outputPath string, cfg FrameConfig) error {
	if cfg.AtSeconds <= 0 {
		cfg.AtSeconds = 1
	}
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 5
	}

	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("stat video: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-ss", strconv.FormatFloat(cfg.AtSeconds, 'f', 2, 64),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", cfg.Width),
		"-q:v", strconv.Itoa(cfg.Quality),
		"-y",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract frame: %w: %s", err, lastLine(stderr.String()))
	}

	stat, err := os.Stat(outputPath)
	if err != nil || stat.Size() == 0 {
		os.Remove(outputPath)
		return fmt.Errorf("no frame extracted from %s", filepath.Base(videoPath))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Version returns the first line of `ffmpeg -version`.
func (p *FrameProcessor) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, p.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg version: %w", err)
	}
	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}
