package audio

import (
	"context"
	"os/exec"
)

// linuxBackend plays with the first available player and probes with ffprobe.
type linuxBackend struct {
	tools
	player string
	args   []string
}

// linuxPlayers lists candidate players in preference order.
var linuxPlayers = [][]string{
	{"paplay"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
	{"mpg123", "-q"},
}

func newLinuxBackend(t tools, player string) *linuxBackend {
	bin, args := splitCommand(player)
	if bin == "" {
		bin, args = detectLinuxPlayer(exec.LookPath)
	}
	return &linuxBackend{tools: t, player: bin, args: args}
}

// detectLinuxPlayer returns the first candidate found by lookPath, or paplay.
func detectLinuxPlayer(lookPath func(string) (string, error)) (string, []string) {
	for _, cand := range linuxPlayers {
		if _, err := lookPath(cand[0]); err == nil {
			return cand[0], cand[1:]
		}
	}
	return "paplay", nil
}

func (b *linuxBackend) Name() string { return "linux" }

func (b *linuxBackend) Play(ctx context.Context, path string) (Process, error) {
	return startProcess(ctx, b.player, append(append([]string{}, b.args...), path)...)
}

func (b *linuxBackend) Duration(ctx context.Context, path string) (float64, bool) {
	return b.probeDuration(ctx, path)
}

func (b *linuxBackend) Envelope(ctx context.Context, path string, chunkMs int) []float64 {
	return b.envelope(ctx, path, chunkMs)
}

func (b *linuxBackend) Trim(ctx context.Context, path string, offset float64) (string, error) {
	return b.trim(ctx, path, offset)
}
