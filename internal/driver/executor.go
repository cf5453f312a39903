// Package driver implements the per-cell build driver: the state machine
// that runs fetch/check/test against a staged dependent, auto-escalating
// patch depth on detected version conflict, per spec.md 4.2.
package driver

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
)

// CargoExecutor runs one cargo subcommand against dir and returns its
// outcome. Grounded on golang-dep's internal/gps/cmd_unix.go commandContext/
// CombinedOutput: a context-aware subprocess that signals SIGINT on
// cancellation and force-kills after a grace period if the subprocess
// ignores it.
type CargoExecutor interface {
	Run(ctx context.Context, dir string, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// execCargoExecutor is the real implementation, shelling out to the
// "cargo" binary on PATH.
type execCargoExecutor struct{}

// NewExecCargoExecutor returns a CargoExecutor that invokes the real cargo
// binary as a child process.
func NewExecCargoExecutor() CargoExecutor { return execCargoExecutor{} }

func (execCargoExecutor) Run(ctx context.Context, dir string, args []string) ([]byte, []byte, int, error) {
	killCtx, killCancel := context.WithCancel(context.Background())
	defer killCancel()

	cmd := exec.CommandContext(killCtx, "cargo", args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, -1, errors.Wrapf(err, "starting cargo %v", args)
	}

	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-ctx.Done():
			if err := cmd.Process.Signal(os.Interrupt); err != nil {
				killCancel()
				return
			}
			stopCancel := time.AfterFunc(time.Minute, killCancel).Stop
			<-waitDone
			stopCancel()
		case <-waitDone:
		}
	}()

	err := cmd.Wait()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	} else if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, errors.Wrapf(err, "running cargo %v", args)
	}

	return stdout.Bytes(), stderr.Bytes(), exitCode, nil
}

// withStepTimeout merges ctx with a fresh timeout for one pipeline step,
// exactly as gps merges a solver-supplied context with its own VCS-command
// deadline via constext.Cons - both the caller's cancellation and this
// step's own budget must be able to end the subprocess.
func withStepTimeout(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, stepCancel := context.WithTimeout(context.Background(), budget)
	merged, mergedCancel := constext.Cons(ctx, stepCtx)
	return merged, func() {
		mergedCancel()
		stepCancel()
	}
}
