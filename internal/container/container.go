// Package container launches isolated worker processes and waits for them.
package container

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotSucceeded = errors.New("container: run did not succeed")

type Spec struct {
	Image    string
	Name     string
	Args     []string
	Env      map[string]string
	CPUs     float64
	MemoryGB float64
	Timeout  time.Duration
}

type Result struct {
	RunID     string
	Status    string
	ExitCode  int
	OOMKilled bool
	Logs      string
	Duration  time.Duration
}

// Succeeded is true only for a clean exit: status exited, code 0, not OOM.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == "exited" && r.ExitCode == 0 && !r.OOMKilled
}

type Launcher interface {
	Launch(ctx context.Context, spec Spec, log *slog.Logger) (*Result, error)
}

// NewRunID returns prefix plus a short random token, lower case so it is a
// valid container name.
func NewRunID(prefix string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	prefix = strings.Trim(strings.ToLower(prefix), "-")
	if prefix == "" {
		return token
	}
	return prefix + "-" + token
}
