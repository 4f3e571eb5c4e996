package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"lingoa/internal/domain"
)

// ElementStrategy hands the clip to an external player process reading a
// temporary file. It cannot confirm audible output.
type ElementStrategy struct {
	command string
	tempDir string
	logger  *slog.Logger
}

func NewElementStrategy(command string, tempDir string, logger *slog.Logger) *ElementStrategy {
	if strings.TrimSpace(command) == "" {
		command = "ffplay"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElementStrategy{command: command, tempDir: tempDir, logger: logger.With("component", "playback_element")}
}

func (e *ElementStrategy) Name() string { return "element" }

func (e *ElementStrategy) Available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *ElementStrategy) Unlock(context.Context) error { return ErrUnlockUnsupported }

func (e *ElementStrategy) Play(_ context.Context, audio domain.SynthesizedAudio, rate float64) (Sound, error) {
	if len(audio.Bytes) == 0 {
		return nil, fmt.Errorf("empty audio")
	}

	path, err := writeTempClip(e.tempDir, audio)
	if err != nil {
		return nil, err
	}
	var removeOnce sync.Once
	remove := func() {
		removeOnce.Do(func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				e.logger.Warn("remove temp clip failed", "path", path, "error", err)
			}
		})
	}

	args := []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error"}
	if rate > 0 && rate != 1 {
		args = append(args, "-af", "atempo="+strconv.FormatFloat(rate, 'f', 2, 64))
	}
	args = append(args, path)

	cmd := exec.Command(e.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		remove()
		return nil, fmt.Errorf("start %s: %w", e.command, err)
	}

	exited := make(chan struct{})
	var stopping atomic.Bool
	snd := newSound(false, func() {
		stopping.Store(true)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-exited
	})
	go func() {
		waitErr := cmd.Wait()
		remove()
		close(exited)
		if stopping.Load() {
			return
		}
		if waitErr != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				waitErr = fmt.Errorf("%w: %s", waitErr, detail)
			}
			snd.finish(fmt.Errorf("%s exited: %w", e.command, waitErr))
			return
		}
		snd.finish(nil)
	}()

	e.logger.Debug("element playback started", "command", e.command, "rate", rate)
	return snd, nil
}

func writeTempClip(dir string, audio domain.SynthesizedAudio) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(audio.Format))
	if ext == "" || strings.Contains(ext, "/") {
		ext = "mp3"
	}
	file, err := os.CreateTemp(dir, "lingoa-reply-*."+ext)
	if err != nil {
		return "", fmt.Errorf("create temp clip: %w", err)
	}
	if _, err := file.Write(audio.Bytes); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("write temp clip: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("close temp clip: %w", err)
	}
	return file.Name(), nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
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
