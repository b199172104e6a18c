package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/snowmerak/engage.go/lib/process"
)

// Provider opens the byte stream a channel runs over.
type Provider interface {
	// Open creates the channel and returns its reader and writer.
	Open(ctx context.Context) (io.Reader, io.Writer, error)
	// Close releases whatever Open acquired.
	Close() error
}

// StdioProvider uses the process's own stdin and stdout. It is the plugin
// side of a ProcessProvider.
type StdioProvider struct{}

func (StdioProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	return os.Stdin, os.Stdout, nil
}

func (StdioProvider) Close() error {
	return nil
}

// ProcessProvider starts a plugin executable and talks to it over its stdio.
type ProcessProvider struct {
	Path string
	Args []string

	process *process.Process
}

func (p *ProcessProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	proc, err := process.Fork(p.Path, p.Args...)
	if err != nil {
		return nil, nil, err
	}
	p.process = proc
	return proc.Stdout(), proc.Stdin(), nil
}

// Wait blocks until the plugin process exits.
func (p *ProcessProvider) Wait() error {
	if p.process == nil {
		return nil
	}
	return p.process.Wait()
}

func (p *ProcessProvider) Close() error {
	if p.process == nil {
		return nil
	}
	return p.process.Close()
}

// CustomProvider allows using custom io.Reader/Writer. Close closes both when
// they implement io.Closer.
type CustomProvider struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *CustomProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	if c.Reader == nil || c.Writer == nil {
		return nil, nil, fmt.Errorf("custom provider needs both a reader and a writer")
	}
	return c.Reader, c.Writer, nil
}

func (c *CustomProvider) Close() error {
	var errs []error
	if closer, ok := c.Reader.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if closer, ok := c.Writer.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Pipe returns two connected providers, host end first. It is used to run a
// host and a plugin in the same process.
func Pipe() (host *CustomProvider, plugin *CustomProvider) {
	pluginReader, hostWriter := io.Pipe()
	hostReader, pluginWriter := io.Pipe()
	return &CustomProvider{Reader: hostReader, Writer: hostWriter},
		&CustomProvider{Reader: pluginReader, Writer: pluginWriter}
}
