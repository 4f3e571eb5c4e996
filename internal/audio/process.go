package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"lingoa/internal/domain"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// process is one ffmpeg child with bounded start and stop.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *lockedBuffer

	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

type processOptions struct {
	withStdin bool
	// expectQuickExit skips the startup grace check; encoders reading a
	// closed stdin legitimately exit early.
	expectQuickExit bool
}

func startProcess(command string, args []string, opts processOptions) (*process, error) {
	cmd := exec.Command(command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	var err error
	if opts.withStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
		}
	}
	// An explicit pipe keeps stdout readable after exit; Wait would close
	// a StdoutPipe and drop the encoder's trailing bytes.
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutWriter
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutWriter.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w: %w", domain.ErrDeviceUnavailable, err)
	}
	_ = stdoutWriter.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	p := &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, waitErr: waitErr}
	if opts.expectQuickExit {
		return p, nil
	}

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		_ = stdout.Close()
		if err != nil {
			return nil, classifyStartErr(fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail), detail)
		}
		return nil, classifyStartErr(errors.New("ffmpeg exited before capture started"), detail)
	case <-time.After(startupGrace):
	}
	return p, nil
}

// wait blocks until the process exits or ctx ends.
func (p *process) wait(ctx context.Context) error {
	select {
	case err, ok := <-p.waitErr:
		if !ok {
			return nil
		}
		return normalizeStopErr(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop interrupts the process, killing it if it ignores the interrupt.
func (p *process) stop() error {
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})
	return p.stopErr
}

// classifyStartErr separates permission denial from missing devices so the
// caller can tell a blocked microphone from an absent one.
func classifyStartErr(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "access denied"),
		strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "input/output error"),
		strings.Contains(lower, "cannot open"):
		return fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	default:
		return err
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
