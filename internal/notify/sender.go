package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// ExecSender shows a desktop notification by shelling out to the
// platform's notifier. It is the daemon's local mirror of the
// notification the extension renders; clicks on it are not observable,
// so it carries no actions.
type ExecSender struct {
	// Timeout bounds the helper process. Zero means 5s.
	Timeout time.Duration
}

// Send implements Sender.
func (e ExecSender) Send(_, title, body string) error {
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux":
		cmd = exec.CommandContext(ctx, "notify-send", "--app-name=runbell", title, body)
	default:
		return fmt.Errorf("no desktop notifier for %s", runtime.GOOS)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("desktop notifier: %w", err)
	}
	return nil
}

// MultiSender fans a notification out to several senders. A sender's
// failure is returned only if every sender failed; one working surface
// is enough.
type MultiSender []Sender

// Send implements Sender.
func (m MultiSender) Send(id, title, body string) error {
	if len(m) == 0 {
		return nil
	}
	var lastErr error
	delivered := false
	for _, s := range m {
		if err := s.Send(id, title, body); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return lastErr
	}
	return nil
}
