// Package subprocess wraps exec for the engine bindings that shell out to
// native speech binaries. It fixes two sharp edges in one place: stdin is
// always attached before the process starts, and stderr is captured into
// the returned error instead of vanishing.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds Run calls whose context carries no deadline.
const DefaultTimeout = 10 * time.Second

// Available reports whether the named binary is on PATH.
func Available(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("binary %q not found in PATH: %w", name, err)
	}
	return nil
}

// Run executes the command to completion and returns its stdout. An empty
// input leaves stdin unconnected. Stderr output is folded into the error.
func Run(ctx context.Context, input string, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		// Attach stdin before Start so the process never observes a
		// half-connected pipe.
		cmd.Stdin = strings.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Proc is a started process whose exit the caller observes through Done.
// It backs engines whose native playback is the lifetime of a subprocess:
// process exit is the completion event, kill is the halt.
type Proc struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan error

	mu     sync.Mutex
	killed bool
}

// Start launches the command and begins waiting for it in the background.
// An empty input leaves stdin unconnected.
func Start(input string, name string, args ...string) (*Proc, error) {
	cmd := exec.Command(name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	p := &Proc{cmd: cmd, stderr: &stderr, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		if err != nil {
			if p.wasKilled() {
				err = nil
			} else if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%s: %w: %s", name, err, msg)
			}
		}
		p.done <- err
	}()
	return p, nil
}

// Done delivers the process exit exactly once. A process halted by Kill
// reports a nil error; its death was requested, not a failure.
func (p *Proc) Done() <-chan error {
	return p.done
}

// Kill terminates the process. Killing an already-finished process is a
// no-op. Done still fires afterwards.
func (p *Proc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
		return err
	}
	return nil
}

func (p *Proc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
