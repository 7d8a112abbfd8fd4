package nebulacert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is a fully built nebula-cert invocation: the argument vector and
// the wall-clock budget it must complete within.
type Command struct {
	Args    []string
	Timeout time.Duration
}

// Result captures the outcome of one external invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes a binary with the given command. Implementations must
// enforce cmd.Timeout and return ErrTimeout when it is exceeded.
type Runner interface {
	Run(ctx context.Context, bin string, cmd Command) (Result, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, bin string, cmd Command) (Result, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(runCtx, bin, cmd.Args...)
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, fmt.Errorf("%w after %s: %s %s", ErrTimeout, cmd.Timeout, bin, strings.Join(cmd.Args, " "))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
			}, nil
		}
		return Result{}, fmt.Errorf("failed to run %s: %w", bin, err)
	}

	return Result{ExitCode: 0, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

func caCommand(name string, validity time.Duration, groups []string, outCrt, outKey string) Command {
	args := []string{
		"ca",
		"-name", name,
		"-duration", durationHours(validity),
		"-out-crt", outCrt,
		"-out-key", outKey,
	}
	if len(groups) > 0 {
		args = append(args, "-groups", strings.Join(groups, ","))
	}
	return Command{Args: args, Timeout: signTimeout}
}

func signCommand(req SignRequest, outCrt, outKey string) Command {
	args := []string{
		"sign",
		"-name", req.Name,
		"-ip", req.IP,
		"-ca-crt", req.CACertPath,
		"-ca-key", req.CAKeyPath,
		"-duration", durationHours(req.Validity),
	}
	// nebula-cert takes each flag once; multiple values are comma-separated.
	if len(req.Groups) > 0 {
		args = append(args, "-groups", strings.Join(req.Groups, ","))
	}
	if len(req.Subnets) > 0 {
		args = append(args, "-subnets", strings.Join(req.Subnets, ","))
	}
	args = append(args, "-out-crt", outCrt, "-out-key", outKey)
	return Command{Args: args, Timeout: signTimeout}
}

func printCommand(path string) Command {
	return Command{
		Args:    []string{"print", "-json", "-path", path},
		Timeout: printTimeout,
	}
}

func versionCommand() Command {
	return Command{Args: []string{"-version"}, Timeout: probeTimeout}
}

// durationHours renders a validity window the way nebula-cert expects it:
// whole hours with an "h" suffix.
func durationHours(d time.Duration) string {
	hours := int64(d / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf("%dh", hours)
}
