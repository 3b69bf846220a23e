package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type ExecError struct {
	Cmd      string
	Args     []string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	cmdline := strings.TrimSpace(e.Cmd + " " + strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		return fmt.Sprintf("container: command failed (exit %d): %s", e.ExitCode, cmdline)
	}
	return fmt.Sprintf("container: command failed: %s", cmdline)
}

func (e *ExecError) Unwrap() error { return e.Cause }

// Docker runs workers through the docker CLI.
type Docker struct {
	// Path to the docker executable. Defaults to "docker".
	Path string

	execFn func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

func NewDocker(path string) *Docker {
	return &Docker{Path: path}
}

func (d *Docker) pathOrDefault() string {
	if strings.TrimSpace(d.Path) == "" {
		return "docker"
	}
	return d.Path
}

func (d *Docker) exec(ctx context.Context, args ...string) ([]byte, []byte, error) {
	name := d.pathOrDefault()
	if d.execFn != nil {
		return d.execFn(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

func (d *Docker) run(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := d.exec(ctx, args...)
	if err != nil {
		exitCode := 0
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
		return stdout, &ExecError{
			Cmd:      d.pathOrDefault(),
			Args:     args,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(string(stderr)),
			Cause:    err,
		}
	}
	return stdout, nil
}

func runArgs(name string, spec Spec) []string {
	args := []string{"run", "--name", name}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPUs, 'f', -1, 64))
	}
	if spec.MemoryGB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", int64(spec.MemoryGB*1024)))
	}
	if spec.Timeout > 0 {
		args = append(args, "--stop-timeout", strconv.Itoa(int(spec.Timeout.Seconds())))
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

type dockerState struct {
	Status    string `json:"Status"`
	ExitCode  int    `json:"ExitCode"`
	OOMKilled bool   `json:"OOMKilled"`
}

// Launch runs the container to completion (or until spec.Timeout), then
// inspects its final state, captures logs and removes it.
func (d *Docker) Launch(ctx context.Context, spec Spec, log *slog.Logger) (*Result, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return nil, fmt.Errorf("container: image is required")
	}
	name := spec.Name
	if name == "" {
		name = NewRunID("worker")
	}
	log = log.With("run_id", name, "image", spec.Image)

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	started := time.Now()
	log.Info("launching container", "args", spec.Args)
	_, runErr := d.run(runCtx, runArgs(name, spec)...)

	// Inspection and cleanup must happen even if the caller was cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	defer func() {
		if _, err := d.run(cleanupCtx, "rm", "-f", name); err != nil {
			log.Warn("failed to remove container", "error", err)
		}
	}()

	res := &Result{RunID: name, Duration: time.Since(started)}
	out, err := d.run(cleanupCtx, "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		if runErr != nil {
			return res, fmt.Errorf("run %s: %w", name, runErr)
		}
		return res, fmt.Errorf("inspect %s: %w", name, err)
	}
	var st dockerState
	if err := json.Unmarshal(bytes.TrimSpace(out), &st); err != nil {
		return res, fmt.Errorf("parse state of %s: %w", name, err)
	}
	res.Status, res.ExitCode, res.OOMKilled = st.Status, st.ExitCode, st.OOMKilled

	if logs, err := d.run(cleanupCtx, "logs", "--tail", "200", name); err == nil {
		res.Logs = string(logs)
	}

	if !res.Succeeded() {
		return res, fmt.Errorf("%w: %s status=%s exit=%d oom=%t", ErrNotSucceeded, name, res.Status, res.ExitCode, res.OOMKilled)
	}
	log.Info("container finished", "duration", res.Duration.Round(time.Second))
	return res, nil
}
