package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvault/internal/privexec"
)

func TestPathFor(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(privexec.NewMemExecutor(), dir, nil)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local)
	assert.Equal(t, filepath.Join(dir, "archive_20240501_130405.tar.gz"), m.PathFor(at))
}

func TestNewManager_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archives")
	_, err := NewManager(privexec.NewMemExecutor(), dir, nil)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestPackUnpack(t *testing.T) {
	ctx := context.Background()
	exec := privexec.NewMemExecutor()
	exec.WriteFile("/live/a", 3)
	m, err := NewManager(exec, t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, m.Pack(ctx, "/live", "/arch/1.tar.gz"))
	require.NoError(t, m.Unpack(ctx, "/arch/1.tar.gz", "/restore"))

	size, ok := exec.FileSize("/restore/a")
	require.True(t, ok)
	assert.Equal(t, uint64(3), size)
}

func TestPack_FailureIsArchiveFailure(t *testing.T) {
	exec := privexec.NewMemExecutor()
	exec.Mkdir("/live")
	boom := errors.New("exit status 2")
	exec.FailOn(privexec.OpPack, boom)
	m, err := NewManager(exec, t.TempDir(), nil)
	require.NoError(t, err)

	err = m.Pack(context.Background(), "/live", "/arch/1.tar.gz")
	assert.ErrorIs(t, err, ErrArchiveFailure)
	assert.ErrorIs(t, err, boom)
}

func TestUnpack_Failures(t *testing.T) {
	m, err := NewManager(privexec.NewMemExecutor(), t.TempDir(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Unpack(context.Background(), "", "/x"), ErrArchiveFailure)
	assert.ErrorIs(t, m.Unpack(context.Background(), "/missing.tar.gz", "/x"), ErrArchiveFailure)
}
