package audio

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// tools holds the external binaries shared by every backend.
type tools struct {
	ffmpeg          string
	ffprobe         string
	probeTimeout    time.Duration
	envelopeTimeout time.Duration
	tempPrefix      string
}

// envelope decodes path to PCM with ffmpeg and computes its loudness envelope.
func (t tools) envelope(ctx context.Context, path string, chunkMs int) []float64 {
	ctx, cancel := context.WithTimeout(ctx, t.envelopeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(EnvelopeSampleRate),
		"-loglevel", "error",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		zlog.Debug().Msgf("audio: envelope extraction failed: path=%s err=%v", path, err)
		return nil
	}
	return ComputeEnvelope(out, EnvelopeSampleRate, chunkMs)
}

// trim re-encodes path from offset seconds into a new temp file.
func (t tools) trim(ctx context.Context, path string, offset float64) (string, error) {
	f, err := os.CreateTemp("", t.tempPrefix+"*.mp3")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	tmp := f.Name()
	_ = f.Close()

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-ss", strconv.FormatFloat(offset, 'f', -1, 64),
		"-i", path,
		"-acodec", "libmp3lame",
		"-ab", "128k",
		"-loglevel", "error",
		"-y", tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "ffmpeg trim failed: %s", strings.TrimSpace(stderr.String()))
	}
	return tmp, nil
}

// probeDuration reads the container duration with ffprobe.
func (t tools) probeDuration(ctx context.Context, path string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		zlog.Debug().Msgf("audio: ffprobe failed: path=%s err=%v", path, err)
		return 0, false
	}
	return parseFFprobeDuration(string(out))
}

// parseFFprobeDuration parses the bare number printed by ffprobe.
func parseFFprobeDuration(out string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
