package audio

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"

	zlog "github.com/rs/zerolog/log"
)

var afinfoDurationRe = regexp.MustCompile(`estimated duration:\s*([\d.]+)`)

// darwinBackend plays with afplay and probes with afinfo.
type darwinBackend struct {
	tools
	player string
	args   []string
}

func newDarwinBackend(t tools, player string) *darwinBackend {
	bin, args := splitCommand(player)
	if bin == "" {
		bin = "afplay"
	}
	return &darwinBackend{tools: t, player: bin, args: args}
}

func (b *darwinBackend) Name() string { return "darwin" }

func (b *darwinBackend) Play(ctx context.Context, path string) (Process, error) {
	return startProcess(ctx, b.player, append(append([]string{}, b.args...), path)...)
}

func (b *darwinBackend) Duration(ctx context.Context, path string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "afinfo", path).Output()
	if err != nil {
		zlog.Debug().Msgf("audio: afinfo failed: path=%s err=%v", path, err)
		return 0, false
	}
	return parseAfinfoDuration(string(out))
}

func (b *darwinBackend) Envelope(ctx context.Context, path string, chunkMs int) []float64 {
	return b.envelope(ctx, path, chunkMs)
}

func (b *darwinBackend) Trim(ctx context.Context, path string, offset float64) (string, error) {
	return b.trim(ctx, path, offset)
}

// parseAfinfoDuration extracts "estimated duration: N sec" from afinfo output.
func parseAfinfoDuration(out string) (float64, bool) {
	m := afinfoDurationRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
