package remote

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/errors"
)

// smartcardTimeout bounds one activation attempt, PIN entry included
const smartcardTimeout = 60 * time.Second

// CommandRunner runs a local command under a timeout. The transport shells
// to ssh-add through this seam; tests inject fakes here.
type CommandRunner func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)

// activateSmartcards (re)adds every configured smartcard to the SSH agent.
// Returns true when at least one card activated, which is enough to retry
// the connection once.
func (t *Transport) activateSmartcards(ctx context.Context, cards map[string]string) bool {
	names := make([]string, 0, len(cards))
	for name := range cards {
		names = append(names, name)
	}
	sort.Strings(names)

	activated := false
	for _, name := range names {
		lib := cards[name]
		// Remove a stale registration first; failure here is expected when
		// the card was never added.
		_, _ = t.runner(ctx, smartcardTimeout, "ssh-add", "-e", lib)
		if _, err := t.runner(ctx, smartcardTimeout, "ssh-add", "-s", lib); err != nil {
			t.Logger().Warn("smartcard activation failed",
				zap.String("card", name), zap.Error(err))
			continue
		}
		t.Logger().Info("smartcard activated", zap.String("card", name))
		activated = true
	}
	return activated
}

// runCommand runs a local command under a coarse timeout. The command gets
// its own process group so an expired timeout can kill the whole tree, not
// just the leaf; cleanup completes before the timeout error propagates.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to start "+name)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case err := <-done:
		if err != nil {
			return out.String(), errors.Wrap(err, errors.ErrorTypeInternal, name+" failed")
		}
		return out.String(), nil
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return out.String(), errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, name+" cancelled")
	case <-timer:
		killGroup(cmd)
		<-done
		return out.String(), errors.Newf(errors.ErrorTypeTimeout,
			"%s did not finish within %s", name, timeout)
	}
}

// killGroup interrupts the whole process group so no orphaned children
// survive the timeout
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(100 * time.Millisecond)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
