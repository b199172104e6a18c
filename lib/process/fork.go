// Package process starts a plugin executable and exposes its stdio as the
// channel transport.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

type Process struct {
	cmd          *exec.Cmd
	stdinWriter  io.WriteCloser
	stdoutReader io.ReadCloser

	waitOnce sync.Once
	waitErr  error
}

// Fork starts path with args. The child's stderr is passed through to ours
// because stdout is reserved for framed channel traffic.
func Fork(path string, args ...string) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		cmd:          cmd,
		stdinWriter:  stdin,
		stdoutReader: stdout,
	}, nil
}

func (p *Process) Stdin() io.Writer {
	return p.stdinWriter
}

func (p *Process) Stdout() io.Reader {
	return p.stdoutReader
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			p.waitErr = fmt.Errorf("process exited with error: %w", err)
		}
	})
	return p.waitErr
}

// Close closes the child's stdin and kills it if it is still running.
func (p *Process) Close() error {
	var errs []error
	if err := p.stdinWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stdin writer: %w", err))
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("failed to kill process: %w", err))
	}
	return errors.Join(errs...)
}
