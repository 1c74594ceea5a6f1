package privexec

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

type memEntry struct {
	dir  bool
	size uint64
}

// MemExecutor is an in-memory Executor. Paths are slash separated and
// absolute. Archives are kept in memory keyed by their path.
type MemExecutor struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	archives map[string]map[string]memEntry
	failures map[string]error
	calls    []string
}

func NewMemExecutor() *MemExecutor {
	return &MemExecutor{
		entries:  map[string]memEntry{"/": {dir: true}},
		archives: make(map[string]map[string]memEntry),
		failures: make(map[string]error),
	}
}

// Mkdir creates p and any missing parents.
func (m *MemExecutor) Mkdir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path.Clean(p))
}

// WriteFile creates or resizes the file at p, creating parents.
func (m *MemExecutor) WriteFile(p string, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.mkdirAll(path.Dir(p))
	m.entries[p] = memEntry{size: size}
}

// Remove deletes p and everything below it.
func (m *MemExecutor) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.clear(p)
	delete(m.entries, p)
}

func (m *MemExecutor) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[path.Clean(p)]
	return ok
}

func (m *MemExecutor) FileSize(p string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok || e.dir {
		return 0, false
	}
	return e.size, true
}

func (m *MemExecutor) HasArchive(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.archives[p]
	return ok
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemExecutor) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the operations run so far, as "op arg..." strings.
func (m *MemExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MemExecutor) List(ctx context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpList, p); err != nil {
		return nil, err
	}
	p = path.Clean(p)
	if e, ok := m.entries[p]; !ok || !e.dir {
		return nil, &CommandError{Op: OpList, Command: "ls -lR " + p, ExitCode: 2, Stderr: "No such file or directory"}
	}

	var sb strings.Builder
	m.listDir(&sb, p)
	return []byte(sb.String()), nil
}

func (m *MemExecutor) listDir(sb *strings.Builder, dir string) {
	children := m.children(dir)

	fmt.Fprintf(sb, "%s:\n", dir)
	fmt.Fprintf(sb, "total %d\n", len(children))
	for _, child := range children {
		e := m.entries[child]
		if e.dir {
			fmt.Fprintf(sb, "drwxr-xr-x 2 root root 4096 2024-01-01 00:00 %s\n", path.Base(child))
		} else {
			fmt.Fprintf(sb, "-rw-r--r-- 1 root root %d 2024-01-01 00:00 %s\n", e.size, path.Base(child))
		}
	}
	for _, child := range children {
		if m.entries[child].dir {
			sb.WriteString("\n")
			m.listDir(sb, child)
		}
	}
}

func (m *MemExecutor) Size(ctx context.Context, p string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpSize, p); err != nil {
		return 0, err
	}
	p = path.Clean(p)
	var total uint64
	for k, e := range m.entries {
		if k == p || isBelow(k, p) {
			total += e.size
		}
	}
	return total, nil
}

func (m *MemExecutor) Pack(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpPack, src, dst); err != nil {
		return err
	}
	src = path.Clean(src)
	if e, ok := m.entries[src]; !ok || !e.dir {
		return &CommandError{Op: OpPack, Command: "tar -czf " + dst, ExitCode: 2, Stderr: src + ": Cannot open"}
	}

	packed := make(map[string]memEntry)
	for k, e := range m.entries {
		if isBelow(k, src) {
			packed[strings.TrimPrefix(k, strings.TrimSuffix(src, "/")+"/")] = e
		}
	}
	m.archives[dst] = packed
	return nil
}

func (m *MemExecutor) Unpack(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpUnpack, src, dst); err != nil {
		return err
	}
	packed, ok := m.archives[src]
	if !ok {
		return &CommandError{Op: OpUnpack, Command: "tar -xzf " + src, ExitCode: 2, Stderr: "Cannot open: No such file or directory"}
	}

	dst = path.Clean(dst)
	m.mkdirAll(dst)
	for rel, e := range packed {
		m.entries[path.Join(dst, rel)] = e
	}
	return nil
}

func (m *MemExecutor) Clear(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpClear, p); err != nil {
		return err
	}
	m.clear(path.Clean(p))
	return nil
}

func (m *MemExecutor) Copy(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpCopy, src, dst); err != nil {
		return err
	}
	src, dst = path.Clean(src), path.Clean(dst)
	m.mkdirAll(dst)
	for k, e := range m.entries {
		if isBelow(k, src) {
			m.entries[path.Join(dst, strings.TrimPrefix(k, strings.TrimSuffix(src, "/")+"/"))] = e
		}
	}
	return nil
}

func (m *MemExecutor) ChmodOwn(ctx context.Context, p, mode, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, OpChmod, p, mode, owner)
}

func (m *MemExecutor) KillProcess(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, OpKill, name)
}

func (m *MemExecutor) LaunchProcess(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, OpLaunch, name)
}

// begin records the call and returns the injected failure, if any.
// Must be called with mu held.
func (m *MemExecutor) begin(ctx context.Context, op string, args ...string) error {
	m.calls = append(m.calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.failures[op]; ok {
		return err
	}
	return nil
}

func (m *MemExecutor) mkdirAll(p string) {
	for q := p; ; q = path.Dir(q) {
		if _, ok := m.entries[q]; !ok {
			m.entries[q] = memEntry{dir: true}
		}
		if q == "/" || q == "." {
			return
		}
	}
}

func (m *MemExecutor) clear(p string) {
	for k := range m.entries {
		if isBelow(k, p) {
			delete(m.entries, k)
		}
	}
}

// children returns the sorted direct children of dir.
func (m *MemExecutor) children(dir string) []string {
	var out []string
	for k := range m.entries {
		if k != dir && path.Dir(k) == dir {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// isBelow reports whether p is strictly inside dir.
func isBelow(p, dir string) bool {
	if dir == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, dir+"/")
}
