package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
)

// outputTail bounds how much command output is kept for errors and logs.
const outputTail = 4 << 10

// ExecSpec describes one command invocation.
type ExecSpec struct {
	Command []string
	Dir     string
	// Env is appended to the daemon's environment.
	Env     []string
	Timeout time.Duration
}

// Exec returns work that runs spec.Command. A non-zero exit fails the attempt.
func Exec(spec ExecSpec, log logx.Logger) dispatch.WorkFunc {
	return func(ctx context.Context, _ any) error {
		out, err := runCommand(ctx, spec)
		if err != nil {
			return err
		}
		log.Debug("command finished", logx.String("cmd", strings.Join(spec.Command, " ")), logx.String("output", out))
		return nil
	}
}

// ExecPrerequisite returns a prerequisite that runs spec.Command.
func ExecPrerequisite(spec ExecSpec) dispatch.Prerequisite {
	return dispatch.PrerequisiteFunc(func(ctx context.Context, _ any) error {
		_, err := runCommand(ctx, spec)
		return err
	})
}

func runCommand(ctx context.Context, spec ExecSpec) (string, error) {
	if len(spec.Command) == 0 {
		return "", dispatch.NoRetry(errors.New("empty command"))
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	var buf tailBuffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return out, dispatch.NoRetry(fmt.Errorf("%s: %w", spec.Command[0], err))
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("%s: %w", spec.Command[0], ctx.Err())
	}
	if out != "" {
		return out, fmt.Errorf("%s: %w: %s", spec.Command[0], err, out)
	}
	return out, fmt.Errorf("%s: %w", spec.Command[0], err)
}

// tailBuffer keeps the last outputTail bytes written to it.
type tailBuffer struct {
	bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= outputTail {
		b.Reset()
		p = p[len(p)-outputTail:]
	} else if over := b.Len() + len(p) - outputTail; over > 0 {
		b.Next(over)
	}
	b.Buffer.Write(p)
	return n, nil
}
