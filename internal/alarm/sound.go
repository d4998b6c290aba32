package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// SoundSink plays the alarm sound by running a shell command, e.g.
// "aplay /usr/share/taskproof/alarm.wav". Playback never blocks the alarm
// loop; a notice arriving while the previous sound still plays is skipped.
type SoundSink struct {
	command string
	limit   time.Duration
	logger  *slog.Logger
	playing atomic.Bool
}

// NewSoundSink builds a sink for command. limit bounds a single playback.
func NewSoundSink(command string, limit time.Duration, logger *slog.Logger) (*SoundSink, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("sound command is empty")
	}
	if limit <= 0 {
		limit = 10 * time.Second
	}
	return &SoundSink{command: command, limit: limit, logger: logger}, nil
}

func (s *SoundSink) Play(_ context.Context, n Notice) error {
	if !s.playing.CompareAndSwap(false, true) {
		return nil
	}
	cmd := commandForSound(s.command)
	if err := cmd.Start(); err != nil {
		s.playing.Store(false)
		return fmt.Errorf("start sound command: %w", err)
	}
	go func() {
		defer s.playing.Store(false)
		watchdog := time.AfterFunc(s.limit, func() {
			sendTermination(cmd.Process)
			time.AfterFunc(2*time.Second, func() {
				_ = cmd.Process.Kill()
			})
		})
		defer watchdog.Stop()
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("sound command exited", "task_id", n.TaskID, "err", err)
		}
	}()
	return nil
}

func commandForSound(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command) // #nosec G204
	}
	return exec.Command("/bin/sh", "-c", command) // #nosec G204
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}
