package privexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Privilege selects how shell commands are elevated.
type Privilege string

const (
	PrivilegeSu   Privilege = "su"
	PrivilegeSudo Privilege = "sudo"
	PrivilegeNone Privilege = "none"
)

// ParsePrivilege validates a configured privilege mode.
func ParsePrivilege(s string) (Privilege, error) {
	switch p := Privilege(s); p {
	case PrivilegeSu, PrivilegeSudo, PrivilegeNone:
		return p, nil
	}
	return "", fmt.Errorf("unknown privilege mode %q", s)
}

// ShellExecutor implements Executor by running shell commands, elevated
// through su or sudo.
type ShellExecutor struct {
	privilege Privilege
	// stopCommand and startCommand are templates where {name} is replaced by
	// the process name. An empty template turns the operation into a no-op.
	stopCommand  string
	startCommand string
	logger       *slog.Logger
}

func NewShellExecutor(privilege Privilege, stopCommand, startCommand string, logger *slog.Logger) *ShellExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellExecutor{
		privilege:    privilege,
		stopCommand:  stopCommand,
		startCommand: startCommand,
		logger:       logger,
	}
}

func (e *ShellExecutor) List(ctx context.Context, path string) ([]byte, error) {
	return e.run(ctx, OpList, "ls -lR "+quote(path))
}

func (e *ShellExecutor) Size(ctx context.Context, path string) (uint64, error) {
	out, err := e.run(ctx, OpSize, "du -sk "+quote(path))
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("size: empty du output for %s", path)
	}
	kb, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size: parse du output %q: %w", fields[0], err)
	}
	return kb * 1024, nil
}

func (e *ShellExecutor) Pack(ctx context.Context, src, dst string) error {
	_, err := e.run(ctx, OpPack, fmt.Sprintf("tar -czf %s -C %s .", quote(dst), quote(src)))
	return err
}

func (e *ShellExecutor) Unpack(ctx context.Context, src, dst string) error {
	_, err := e.run(ctx, OpUnpack, fmt.Sprintf("tar -xzf %s -C %s", quote(src), quote(dst)))
	return err
}

func (e *ShellExecutor) Clear(ctx context.Context, path string) error {
	_, err := e.run(ctx, OpClear, fmt.Sprintf("find %s -mindepth 1 -delete", quote(path)))
	return err
}

func (e *ShellExecutor) Copy(ctx context.Context, src, dst string) error {
	_, err := e.run(ctx, OpCopy, fmt.Sprintf("cp -R %s/. %s", quote(src), quote(dst)))
	return err
}

func (e *ShellExecutor) ChmodOwn(ctx context.Context, path, mode, owner string) error {
	if _, err := e.run(ctx, OpChmod, fmt.Sprintf("chmod -R %s %s", mode, quote(path))); err != nil {
		return err
	}
	if owner == "" {
		return nil
	}
	_, err := e.run(ctx, OpChmod, fmt.Sprintf("chown -R %s %s", quote(owner+":"+owner), quote(path)))
	return err
}

func (e *ShellExecutor) KillProcess(ctx context.Context, name string) error {
	return e.runTemplate(ctx, OpKill, e.stopCommand, name)
}

func (e *ShellExecutor) LaunchProcess(ctx context.Context, name string) error {
	return e.runTemplate(ctx, OpLaunch, e.startCommand, name)
}

func (e *ShellExecutor) runTemplate(ctx context.Context, op, template, name string) error {
	if template == "" || name == "" {
		e.logger.Debug("process command not configured, skipping", "op", op, "process", name)
		return nil
	}
	_, err := e.run(ctx, op, strings.ReplaceAll(template, "{name}", name))
	return err
}

func (e *ShellExecutor) argv(command string) []string {
	switch e.privilege {
	case PrivilegeSu:
		return []string{"su", "-c", command}
	case PrivilegeSudo:
		return []string{"sudo", "-n", "sh", "-c", command}
	default:
		return []string{"sh", "-c", command}
	}
}

func (e *ShellExecutor) run(ctx context.Context, op, command string) ([]byte, error) {
	argv := e.argv(command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		e.logger.Debug("command stderr", "op", op, "command", command, "stderr", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &CommandError{
				Op:       op,
				Command:  command,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("%s: start %q: %w", op, command, err)
	}
	return stdout.Bytes(), nil
}

// quote wraps s in single quotes for sh.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
