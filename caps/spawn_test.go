package caps

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewRemovalWatcherFiresOnMatchingRemove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.sock")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	log := logrus.NewEntry(logrus.New())
	watcher, removed := newRemovalWatcher(log, dir, "watched.sock")
	require.NotNil(t, watcher)
	defer watcher.Close()

	require.NoError(t, os.Remove(target))

	select {
	case name := <-removed:
		require.Equal(t, target, name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a removal event")
	}
}

func TestNewRemovalWatcherIgnoresUnrelatedRemove(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	log := logrus.NewEntry(logrus.New())
	watcher, removed := newRemovalWatcher(log, dir, "watched.sock")
	require.NotNil(t, watcher)
	defer watcher.Close()

	require.NoError(t, os.Remove(other))

	select {
	case name := <-removed:
		t.Fatalf("unexpected removal event for %s", name)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReadPidfileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pidfile")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, err := readPidfile(path)
	require.Error(t, err)
}

func TestReadPidfileParsesValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pidfile")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	pid, err := readPidfile(path)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}
