// Package audio provides platform playback backends built on external tools.
package audio

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrUnsupportedOS is returned when no backend exists for the platform.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Process is a running player process.
type Process interface {
	// Wait blocks until the process exits and returns its exit code.
	// A process terminated by a signal reports -1.
	Wait() (int, error)
	// Kill forcibly terminates the process. It fails with os.ErrProcessDone
	// if the process has already exited.
	Kill() error
	// Exited reports whether the process has finished.
	Exited() bool
}

// Backend is the set of platform playback capabilities.
type Backend interface {
	// Name returns the backend name.
	Name() string
	// Play spawns a player process for the file.
	Play(ctx context.Context, path string) (Process, error)
	// Duration probes the file length in seconds. It fails soft.
	Duration(ctx context.Context, path string) (float64, bool)
	// Envelope returns normalized loudness samples, one per chunk. It fails soft.
	Envelope(ctx context.Context, path string, chunkMs int) []float64
	// Trim writes a new temporary file starting at offset seconds.
	Trim(ctx context.Context, path string, offset float64) (string, error)
}

// Config represents backend configuration.
type Config struct {
	Player          string // Player command override, e.g. "ffplay -nodisp -autoexit"
	FFmpegPath      string
	FFprobePath     string
	ProbeTimeout    time.Duration
	EnvelopeTimeout time.Duration
	TempPrefix      string
}

// New selects the backend for the running platform.
func New(cfg Config) (Backend, error) {
	return NewForOS(runtime.GOOS, cfg)
}

// NewForOS selects the backend for goos.
func NewForOS(goos string, cfg Config) (Backend, error) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.EnvelopeTimeout <= 0 {
		cfg.EnvelopeTimeout = 30 * time.Second
	}
	if cfg.TempPrefix == "" {
		cfg.TempPrefix = "speakd-"
	}

	t := tools{
		ffmpeg:          findTool(cfg.FFmpegPath, "ffmpeg"),
		ffprobe:         findTool(cfg.FFprobePath, "ffprobe"),
		probeTimeout:    cfg.ProbeTimeout,
		envelopeTimeout: cfg.EnvelopeTimeout,
		tempPrefix:      cfg.TempPrefix,
	}

	var b Backend
	switch goos {
	case "darwin":
		b = newDarwinBackend(t, cfg.Player)
	case "linux":
		b = newLinuxBackend(t, cfg.Player)
	default:
		return nil, errors.Wrapf(ErrUnsupportedOS, "os=%s", goos)
	}

	zlog.Info().Msgf("audio backend selected: backend=%s ffmpeg=%s", b.Name(), t.ffmpeg)
	return b, nil
}

// findTool resolves a binary from an explicit path, PATH, or common
// install locations, falling back to the bare name.
func findTool(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	for _, dir := range []string{"/opt/homebrew/bin", "/usr/local/bin"} {
		p := dir + "/" + name
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return name
}

// splitCommand splits a player command into binary and leading arguments.
func splitCommand(cmd string) (string, []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
