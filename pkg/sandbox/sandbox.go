// Package sandbox manages isolated execution environments for agent tool
// calls. Network posture is fixed at creation time; the manager guarantees at
// most one live sandbox per owner key.
package sandbox

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a sandbox cannot be created or recreated.
var ErrUnavailable = errors.New("sandbox unavailable")

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	Stdout   string
	ExitCode int
}

// Stats reports resource usage of a running sandbox.
type Stats struct {
	MemoryBytes uint64
	CPUPercent  float64
}

// Spec describes a sandbox to create. BlockNetwork cannot be changed after
// creation.
type Spec struct {
	OwnerKey     string
	WorkspaceDir string // host directory mounted read-write at /workspace
	SkillsDir    string // approved skills, mounted read-only at /skills; "" to skip
	BlockNetwork bool
}

// Instance is one live sandbox.
type Instance interface {
	ID() string

	// Running reports whether the underlying runtime still considers the
	// sandbox alive. A false return triggers transparent recreation.
	Running(ctx context.Context) bool

	// Execute runs a shell command and returns its combined output and exit
	// code. Commands are bounded by the runtime's execution timeout; on
	// timeout the result carries a non-zero exit code.
	Execute(ctx context.Context, cmd string) (ExecResult, error)

	// WriteFile places a file inside the sandbox filesystem.
	WriteFile(ctx context.Context, path string, data []byte) error

	// ReadFile retrieves a file from the sandbox filesystem.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Stats returns current resource usage.
	Stats(ctx context.Context) (Stats, error)

	// Terminate force-removes the sandbox. Idempotent.
	Terminate(ctx context.Context) error
}

// Runtime creates sandboxes. Implemented by the docker runtime in production
// and by fakes in tests.
type Runtime interface {
	Create(ctx context.Context, spec Spec) (Instance, error)
}
