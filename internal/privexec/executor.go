// Package privexec runs the privileged filesystem and process operations the
// scanner needs against the target directory.
//
// Every operation blocks until the underlying command exits. Output is kept
// for diagnostics only and is never interpreted beyond the documented parse of
// List and Size.
package privexec

import (
	"context"
	"fmt"
)

const (
	OpList   = "list"
	OpSize   = "size"
	OpPack   = "pack"
	OpUnpack = "unpack"
	OpClear  = "clear"
	OpCopy   = "copy"
	OpChmod  = "chmod"
	OpKill   = "kill"
	OpLaunch = "launch"
)

// Executor is the capability to run privileged operations.
type Executor interface {
	// List returns a recursive long-format listing (ls -lR) rooted at path.
	List(ctx context.Context, path string) ([]byte, error)
	// Size returns the disk usage of path in bytes.
	Size(ctx context.Context, path string) (uint64, error)
	// Pack writes a gzip compressed tar of the contents of src to dst.
	Pack(ctx context.Context, src, dst string) error
	// Unpack extracts the archive src into the existing directory dst.
	Unpack(ctx context.Context, src, dst string) error
	// Clear removes everything inside path, leaving path itself in place.
	Clear(ctx context.Context, path string) error
	// Copy copies the contents of src into dst.
	Copy(ctx context.Context, src, dst string) error
	// ChmodOwn recursively applies mode and, when owner is set, ownership.
	ChmodOwn(ctx context.Context, path, mode, owner string) error
	KillProcess(ctx context.Context, name string) error
	LaunchProcess(ctx context.Context, name string) error
}

// CommandError reports a command that ran but exited abnormally.
type CommandError struct {
	Op       string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %q exited with code %d: %s", e.Op, e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: %q exited with code %d", e.Op, e.Command, e.ExitCode)
}
