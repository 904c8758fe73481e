package audio

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/cockroachdb/errors"
)

// cmdProcess adapts exec.Cmd to Process.
type cmdProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

// startProcess starts name with args and reaps it in the background.
func startProcess(ctx context.Context, name string, args ...string) (*cmdProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", name)
	}

	p := &cmdProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

func (p *cmdProcess) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.code = 0
	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	p.mu.Unlock()

	close(p.done)
}

func (p *cmdProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *cmdProcess) Kill() error {
	if p.Exited() {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Kill()
}

func (p *cmdProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
