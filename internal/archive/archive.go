// Package archive packs the target directory into compressed archives and
// unpacks them again.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrArchiveFailure is returned when the packer exits abnormally.
var ErrArchiveFailure = errors.New("archive failure")

// FileTimeFormat is the timestamp layout used in snapshot and archive names.
const FileTimeFormat = "20060102_150405"

// Packer runs the external pack and unpack commands.
type Packer interface {
	Pack(ctx context.Context, src, dst string) error
	Unpack(ctx context.Context, src, dst string) error
}

// Manager owns the archive directory.
type Manager struct {
	packer Packer
	dir    string
	logger *slog.Logger
}

// NewManager creates dir if needed and returns a Manager storing archives in it.
func NewManager(packer Packer, dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{packer: packer, dir: dir, logger: logger}, nil
}

// PathFor returns the archive path for a scan started at t.
func (m *Manager) PathFor(t time.Time) string {
	return filepath.Join(m.dir, "archive_"+t.Format(FileTimeFormat)+".tar.gz")
}

// Pack archives the contents of sourceDir into archivePath.
func (m *Manager) Pack(ctx context.Context, sourceDir, archivePath string) error {
	start := time.Now()
	if err := m.packer.Pack(ctx, sourceDir, archivePath); err != nil {
		m.logger.Error("pack failed", "source", sourceDir, "archive", archivePath, "error", err)
		return fmt.Errorf("%w: pack %s: %w", ErrArchiveFailure, sourceDir, err)
	}
	m.logger.Info("directory packed", "source", sourceDir, "archive", archivePath, "duration", time.Since(start))
	return nil
}

// Unpack extracts archivePath into destDir.
func (m *Manager) Unpack(ctx context.Context, archivePath, destDir string) error {
	if archivePath == "" {
		return fmt.Errorf("%w: empty archive path", ErrArchiveFailure)
	}
	start := time.Now()
	if err := m.packer.Unpack(ctx, archivePath, destDir); err != nil {
		m.logger.Error("unpack failed", "archive", archivePath, "dest", destDir, "error", err)
		return fmt.Errorf("%w: unpack %s: %w", ErrArchiveFailure, archivePath, err)
	}
	m.logger.Info("archive unpacked", "archive", archivePath, "dest", destDir, "duration", time.Since(start))
	return nil
}

// Remove deletes an archive that will not be referenced by the ledger.
func (m *Manager) Remove(archivePath string) {
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove orphan archive", "archive", archivePath, "error", err)
	}
}
