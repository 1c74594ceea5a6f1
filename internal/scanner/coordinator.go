// Package scanner owns the current tree of the target directory. It runs the
// periodic scan loop, records changed snapshots in the ledger together with an
// archive of the directory, and restores the directory from those archives.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"snapvault/internal/archive"
	"snapvault/internal/compare"
	"snapvault/internal/ledger"
	"snapvault/internal/privexec"
	"snapvault/internal/tree"
)

// ErrRestoreFailure wraps any failure of the restore sequence.
var ErrRestoreFailure = errors.New("restore failure")

// Store is the part of the ledger the coordinator needs.
type Store interface {
	Insert(ctx context.Context, rec ledger.Record) (uint64, error)
	ByID(ctx context.Context, id uint64) (*ledger.Record, error)
	MostRecent(ctx context.Context) (*ledger.Record, error)
	PredecessorSnapshotPath(ctx context.Context, id uint64) (string, bool, error)
	Entries(ctx context.Context) ([]ledger.DirectoryEntry, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// Options configures a Coordinator.
type Options struct {
	// Target is the live directory being watched.
	Target string
	// ScansDir receives one snapshot file per recorded scan.
	ScansDir string
	// TempDir is where restores unpack archives before copying.
	TempDir string
	// Process is the application stopped and relaunched around a restore.
	Process string
	// Mode and Owner are applied to Target after a restore.
	Mode  string
	Owner string
	// Exclude lists patterns left out of the tree.
	Exclude []string
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Coordinator is the single writer of the current tree and the ledger.
//
// Scan cycles, restores and the initial archive each hold a one-permit gate
// while they touch the target directory, so at most one of them runs at a
// time.
type Coordinator struct {
	opts     Options
	exec     privexec.Executor
	builder  *tree.Builder
	archives *archive.Manager
	store    Store
	logger   *slog.Logger
	now      func() time.Time

	gate *semaphore.Weighted
	bg   sync.WaitGroup

	mu        sync.Mutex
	current   *tree.Node
	lastStart time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopping  bool
	interval  time.Duration
}

// New builds a Coordinator. With an empty ledger it scans the target once,
// records the first snapshot and archives it in the background. Otherwise
// the current tree is loaded from the most recent snapshot.
func New(ctx context.Context, opts Options, exec privexec.Executor, archives *archive.Manager, store Store) (*Coordinator, error) {
	if opts.Target == "" {
		return nil, errors.New("target directory is required")
	}
	for _, dir := range []string{opts.ScansDir, opts.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	c := &Coordinator{
		opts:     opts,
		exec:     exec,
		builder:  tree.NewBuilder(exec, opts.Exclude),
		archives: archives,
		store:    store,
		logger:   opts.Logger,
		now:      opts.Now,
		gate:     semaphore.NewWeighted(1),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}

	empty, err := store.IsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		if err := c.initialize(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	rec, err := store.MostRecent(ctx)
	if err != nil {
		return nil, err
	}
	c.lastStart = rec.StartTime
	snapshot, err := tree.Load(rec.SnapshotPath)
	if err != nil {
		// The next cycle sees a difference and records a fresh snapshot.
		c.logger.Warn("failed to load most recent snapshot", "id", rec.ID, "path", rec.SnapshotPath, "error", err)
		return c, nil
	}
	c.current = snapshot.Tree
	c.logger.Info("current tree loaded", "id", rec.ID, "snapshot", rec.SnapshotPath)
	return c, nil
}

func (c *Coordinator) initialize(ctx context.Context) error {
	// Held until the background pack finishes.
	if !c.gate.TryAcquire(1) {
		return errors.New("scan gate busy during initialization")
	}

	start := c.now()
	rec, root, err := c.capture(ctx, start, c.archives.PathFor(start))
	if err != nil {
		c.gate.Release(1)
		return err
	}

	c.mu.Lock()
	c.current = root
	c.lastStart = rec.StartTime
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer c.gate.Release(1)
		if err := c.archives.Pack(context.WithoutCancel(ctx), c.opts.Target, rec.ArchivePath); err != nil {
			c.logger.Error("initial archive failed", "id", rec.ID, "error", err)
			return
		}
		archivesTotal.Inc()
	}()

	c.logger.Info("initial scan recorded", "id", rec.ID, "size", rec.TotalSize)
	return nil
}

// capture builds the tree, measures the target and writes the snapshot and
// the ledger record. The archive at archivePath is the caller's concern.
func (c *Coordinator) capture(ctx context.Context, start time.Time, archivePath string) (*ledger.Record, *tree.Node, error) {
	began := time.Now()
	root, err := c.builder.Build(ctx, c.opts.Target)
	if err != nil {
		return nil, nil, err
	}
	return c.record(ctx, root, start, time.Since(began), archivePath)
}

// record sizes the target and persists the scan. The recorded duration is
// listed plus the time spent sizing.
func (c *Coordinator) record(ctx context.Context, root *tree.Node, start time.Time, listed time.Duration, archivePath string) (*ledger.Record, *tree.Node, error) {
	began := time.Now()
	size, err := c.exec.Size(ctx, c.opts.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: size %s: %w", tree.ErrScanFailure, c.opts.Target, err)
	}
	elapsed := listed + time.Since(began)
	scanDuration.Observe(elapsed.Seconds())

	digest, err := tree.Digest(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to digest tree: %w", err)
	}

	rec := ledger.Record{
		SnapshotPath:   filepath.Join(c.opts.ScansDir, "scan_"+start.Format(archive.FileTimeFormat)+".json"),
		ArchivePath:    archivePath,
		TotalSize:      tree.FormatSize(size),
		ScanDurationMs: elapsed.Milliseconds(),
		StartTime:      start.Truncate(time.Second),
		Digest:         digest,
	}
	if err := tree.Save(root, c.opts.Target, rec.TotalSize, digest, rec.SnapshotPath); err != nil {
		return nil, nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	id, err := c.store.Insert(ctx, rec)
	if err != nil {
		c.removeSnapshot(rec.SnapshotPath)
		return nil, nil, err
	}
	rec.ID = id
	return &rec, root, nil
}

// StartScanning starts the periodic loop. It reports false, leaving the
// running loop and its interval alone, when scanning is already active. A loop
// that is being stopped is waited for first.
func (c *Coordinator) StartScanning(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.stopping {
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}
	if c.cancel != nil {
		c.logger.Debug("scanning already active", "interval", c.interval, "requested", interval)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.interval = interval
	go c.loop(ctx, interval, c.done)

	c.logger.Info("scanning started", "interval", interval)
	return true
}

// StopScanning cancels the loop and waits for an in-flight cycle to finish.
// Concurrent callers all wait for the same loop. It is a no-op when idle.
func (c *Coordinator) StopScanning() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel == nil {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.mu.Unlock()

	cancel()
	<-done
}

// Scanning reports whether the periodic loop is running and not being
// stopped.
func (c *Coordinator) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil && !c.stopping
}

// Interval returns the period of the running loop, or zero when idle.
func (c *Coordinator) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return 0
	}
	return c.interval
}

func (c *Coordinator) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer c.finish(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("scan cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finish returns the coordinator to idle once the loop owning done has exited.
func (c *Coordinator) finish(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return
	}
	c.cancel, c.done, c.interval, c.stopping = nil, nil, 0, false
	c.logger.Info("scanning stopped")
}

// ScanOnce runs one scan cycle and reports whether a new record was written.
// ctx only bounds the wait for the gate; once the cycle starts it runs to
// completion.
func (c *Coordinator) ScanOnce(ctx context.Context) (bool, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer c.gate.Release(1)

	recorded, err := c.cycle(context.WithoutCancel(ctx))
	if err != nil {
		scanCycles.WithLabelValues("failed").Inc()
		return false, err
	}
	return recorded, nil
}

// cycle must be called with the gate held.
func (c *Coordinator) cycle(ctx context.Context) (bool, error) {
	start := c.now()
	began := time.Now()

	root, err := c.builder.Build(ctx, c.opts.Target)
	if err != nil {
		return false, err
	}
	listed := time.Since(began)

	c.mu.Lock()
	current, lastStart := c.current, c.lastStart
	c.mu.Unlock()

	if tree.Equal(current, root) {
		scanCycles.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	// Snapshot and archive names carry the start second, and ledger order
	// needs strictly increasing start times. Retry on the next tick.
	if !start.Truncate(time.Second).After(lastStart) {
		c.logger.Debug("change detected in the second of the last record, deferring")
		scanCycles.WithLabelValues("deferred").Inc()
		return false, nil
	}

	archivePath := c.archives.PathFor(start)
	if err := c.archives.Pack(ctx, c.opts.Target, archivePath); err != nil {
		return false, err
	}

	rec, root, err := c.record(ctx, root, start, listed, archivePath)
	if err != nil {
		c.archives.Remove(archivePath)
		return false, err
	}

	c.mu.Lock()
	c.current = root
	c.lastStart = rec.StartTime
	c.mu.Unlock()

	archivesTotal.Inc()
	scanCycles.WithLabelValues("archived").Inc()
	c.logger.Info("change recorded", "id", rec.ID, "size", rec.TotalSize, "duration_ms", rec.ScanDurationMs)
	return true, nil
}

// Restore replaces the contents of the target directory with the archive of
// scan id and reports whether every step succeeded. A failed step leaves the
// earlier steps applied.
func (c *Coordinator) Restore(ctx context.Context, id uint64) bool {
	if err := c.restore(ctx, id); err != nil {
		c.logger.Error("restore failed", "id", id, "error", err)
		restoresTotal.WithLabelValues("failure").Inc()
		return false
	}
	c.logger.Info("restore complete", "id", id)
	restoresTotal.WithLabelValues("success").Inc()
	return true
}

func (c *Coordinator) restore(ctx context.Context, id uint64) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailure, err)
	}
	defer c.gate.Release(1)
	ctx = context.WithoutCancel(ctx)

	rec, err := c.store.ByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailure, err)
	}
	if rec.ArchivePath == "" {
		return fmt.Errorf("%w: scan %d has no archive", ErrRestoreFailure, id)
	}

	target := c.opts.Target
	c.logger.Info("restoring", "id", id, "archive", rec.ArchivePath, "target", target)

	if err := c.exec.KillProcess(ctx, c.opts.Process); err != nil {
		return fmt.Errorf("%w: stop %s: %w", ErrRestoreFailure, c.opts.Process, err)
	}

	tmp, err := os.MkdirTemp(c.opts.TempDir, "restore_")
	if err != nil {
		return fmt.Errorf("%w: create temp dir: %w", ErrRestoreFailure, err)
	}
	if err := c.archives.Unpack(ctx, rec.ArchivePath, tmp); err != nil {
		c.removeTemp(ctx, tmp)
		return fmt.Errorf("%w: %w", ErrRestoreFailure, err)
	}

	if err := c.exec.Clear(ctx, target); err != nil {
		return fmt.Errorf("%w: clear %s: %w", ErrRestoreFailure, target, err)
	}
	if err := c.exec.Copy(ctx, tmp, target); err != nil {
		return fmt.Errorf("%w: copy into %s: %w", ErrRestoreFailure, target, err)
	}
	if err := c.removeTemp(ctx, tmp); err != nil {
		return fmt.Errorf("%w: remove temp dir: %w", ErrRestoreFailure, err)
	}

	if err := c.exec.ChmodOwn(ctx, target, c.opts.Mode, c.opts.Owner); err != nil {
		return fmt.Errorf("%w: permissions: %w", ErrRestoreFailure, err)
	}
	if err := c.exec.LaunchProcess(ctx, c.opts.Process); err != nil {
		return fmt.Errorf("%w: launch %s: %w", ErrRestoreFailure, c.opts.Process, err)
	}
	return nil
}

// removeTemp deletes a restore staging directory. Its contents may belong to
// another user, so they are cleared with the privileged executor first.
func (c *Coordinator) removeTemp(ctx context.Context, dir string) error {
	if err := c.exec.Clear(ctx, dir); err != nil {
		return err
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Coordinator) removeSnapshot(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove orphan snapshot", "path", path, "error", err)
	}
}

// DiffAgainstPredecessor compares the snapshot of scan id with the snapshot
// of the scan before it. Without a predecessor the report is a plain
// rendering.
func (c *Coordinator) DiffAgainstPredecessor(ctx context.Context, id uint64) (*compare.Report, *ledger.Record, error) {
	rec, err := c.store.ByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := tree.Load(rec.SnapshotPath)
	if err != nil {
		return nil, nil, err
	}

	prevPath, ok, err := c.store.PredecessorSnapshotPath(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return compare.Render(snapshot.Tree), rec, nil
	}

	prev, err := tree.Load(prevPath)
	if err != nil {
		return nil, nil, fmt.Errorf("predecessor of %d: %w", id, err)
	}
	return compare.Compare(prev.Tree, snapshot.Tree), rec, nil
}

// LastScan returns the most recent record.
func (c *Coordinator) LastScan(ctx context.Context) (*ledger.Record, error) {
	return c.store.MostRecent(ctx)
}

// Entries lists all records newest first.
func (c *Coordinator) Entries(ctx context.Context) ([]ledger.DirectoryEntry, error) {
	return c.store.Entries(ctx)
}

// CurrentTree returns the most recently accepted tree. Callers must not
// modify it.
func (c *Coordinator) CurrentTree() *tree.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close stops scanning and waits for background archiving.
func (c *Coordinator) Close() {
	c.StopScanning()
	c.bg.Wait()
}
