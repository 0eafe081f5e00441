//go:build !linux && !darwin

package handler

import (
	"context"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {}

func runWithGroupKill(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
