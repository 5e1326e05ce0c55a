package caps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/qemu-capabilities/internal/config"
	"github.com/kata-containers/qemu-capabilities/pkg/govmm/qemu"
)

const (
	monitorSockName = "capabilities.monitor.sock"
	pidfileName     = "capabilities.pidfile"
)

// runCaptured invokes binaryPath with args under the configured
// uid/gid and a sanitized environment, and returns its combined
// stdout+stderr. A nonzero exit is not itself an error -- the legacy
// discovery paths rely on stderr/stdout regardless of exit code (e.g.
// "-device ?" exits nonzero by design) -- callers decide what a
// nonzero exit means for their probe.
func runCaptured(ctx context.Context, cfg config.Config, binaryPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	applyProbeIdentity(cmd, cfg)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := runWithClearedAmbientCaps(cmd)
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return out.String(), nil
		}
		return out.String(), errors.Wrapf(err, "spawn %s", binaryPath)
	}
	return out.String(), nil
}

// applyProbeIdentity configures cmd to run as the configured uid/gid, in
// its own session, with only the sanitized environment.
func applyProbeIdentity(cmd *exec.Cmd, cfg config.Config) {
	cmd.Env = cfg.SanitizedEnviron()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
		Credential: &syscall.Credential{
			Uid: uint32(cfg.ProbeUID),
			Gid: uint32(cfg.ProbeGID),
		},
	}
}

// runWithClearedAmbientCaps runs cmd after clearing the calling thread's
// ambient capability set, which a forked child inherits at clone() time.
// The OS thread stays locked for the clear-then-start window so the
// goroutine cannot migrate off the thread whose ambient set was just
// cleared.
func runWithClearedAmbientCaps(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil && err != unix.EINVAL {
		orchestratorLog.WithError(err).Debug("failed to clear ambient capabilities before spawn")
	}

	return cmd.Run()
}

// monitorHandle bundles the live session with the cleanup the
// Orchestrator must run regardless of how the probe concludes.
type monitorHandle struct {
	Session *qemu.Session
	Version *qemu.Version
	Cleanup func()
}

// spawnMonitorProbe launches binaryPath in the minimal daemonized
// configuration of §6, waits for its pidfile to appear, and opens a
// QMP session against its monitor socket. A nonzero spawn exit,
// missing pidfile, or failed connect are all soft declinations
// (ErrDecline), per §7's propagation policy -- only the Orchestrator
// translates those into "try HelpParser instead".
func spawnMonitorProbe(ctx context.Context, cfg config.Config, binaryPath string, log *logrus.Entry) (*monitorHandle, error) {
	if err := os.MkdirAll(cfg.LibDir, 0o755); err != nil {
		return nil, ErrDecline
	}

	sockPath := filepath.Join(cfg.LibDir, monitorSockName)
	pidPath := filepath.Join(cfg.LibDir, pidfileName)
	_ = os.Remove(sockPath)
	_ = os.Remove(pidPath)

	watcher, removed := newRemovalWatcher(log, cfg.LibDir, monitorSockName, pidfileName)

	args := []string{
		"-S", "-no-user-config", "-nodefaults", "-nographic", "-M", "none",
		"-qmp", "unix:" + sockPath + ",server,nowait",
		"-pidfile", pidPath, "-daemonize",
	}

	cmd := exec.Command(binaryPath, args...)
	applyProbeIdentity(cmd, cfg)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := runWithClearedAmbientCaps(cmd); err != nil {
		log.WithError(err).Debug("monitor probe spawn declined")
		closeWatcher(watcher)
		return nil, ErrDecline
	}

	// -daemonize only returns once the child has written its pidfile, so a
	// short grace period is enough; waiting out the caller's whole
	// deadline would leave nothing for the help-based fallback.
	const pidfileWaitTimeout = time.Second
	waitCtx, cancelWait := context.WithTimeout(ctx, pidfileWaitTimeout)
	pid, err := waitForPidfile(waitCtx, pidPath, removed)
	cancelWait()
	if err != nil {
		log.WithError(err).Debug("monitor probe pidfile never appeared")
		closeWatcher(watcher)
		return nil, ErrDecline
	}

	disconnectedCh := make(chan struct{})
	sess, version, err := qemu.Start(ctx, sockPath, qemu.Config{Logger: logrusAdapter{log}}, disconnectedCh)
	if err != nil {
		killPid(pid)
		_ = os.Remove(pidPath)
		_ = os.Remove(sockPath)
		closeWatcher(watcher)
		return nil, ErrDecline
	}

	// If the socket or pidfile disappears out from under a live session
	// -- another process cleaning the lib directory, an operator error --
	// tear the session down immediately rather than waiting on a query
	// that will never get a reply.
	// Session.Shutdown may only be called once; both the removal watcher
	// and cleanup can reach it.
	var shutdownOnce sync.Once
	shutdown := func() { shutdownOnce.Do(sess.Shutdown) }

	go func() {
		select {
		case <-removed:
			shutdown()
		case <-disconnectedCh:
		}
	}()

	cleanup := func() {
		shutdown()
		<-disconnectedCh
		closeWatcher(watcher)
		killPid(pid)
		_ = os.Remove(pidPath)
		_ = os.Remove(sockPath)
	}

	return &monitorHandle{Session: sess, Version: version, Cleanup: cleanup}, nil
}

// waitForPidfile polls for pidPath to appear and contain a parseable
// pid, bounded by ctx and a fixed poll interval. removed, if non-nil,
// fires early if the pidfile (or its sibling socket) is deleted out
// from under the in-flight spawn.
func waitForPidfile(ctx context.Context, pidPath string, removed <-chan string) (int, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if pid, err := readPidfile(pidPath); err == nil {
			return pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-removed:
			return 0, errors.New("monitor lib files removed externally before pidfile was ready")
		case <-ticker.C:
		}
	}
}

// newRemovalWatcher watches dir for Remove events on any of the given
// file names, emitting the matched path on the returned channel (buffer
// of 1; further events are dropped once one is pending). Returns a nil
// watcher and a nil channel if the watch could not be established; a
// nil channel simply never fires in a select.
func newRemovalWatcher(log *logrus.Entry, dir string, names ...string) (*fsnotify.Watcher, <-chan string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Debug("failed to create lib-directory watcher")
		return nil, nil
	}
	if err := watcher.Add(dir); err != nil {
		log.WithError(err).Debug("failed to watch lib directory")
		watcher.Close()
		return nil, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	removed := make(chan string, 1)
	go func() {
		for event := range watcher.Events {
			if event.Op&fsnotify.Remove == 0 || !want[filepath.Base(event.Name)] {
				continue
			}
			select {
			case removed <- event.Name:
			default:
			}
		}
	}()

	return watcher, removed
}

func closeWatcher(watcher *fsnotify.Watcher) {
	if watcher != nil {
		watcher.Close()
	}
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscan(string(data), &pid); err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, errors.New("pidfile contains no usable pid")
	}
	return pid, nil
}

func killPid(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

// logrusAdapter satisfies qemu.Logger on top of a *logrus.Entry.
type logrusAdapter struct {
	entry *logrus.Entry
}

func (l logrusAdapter) V(int32) bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l logrusAdapter) Infof(format string, args ...interface{})    { l.entry.Infof(format, args...) }
func (l logrusAdapter) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l logrusAdapter) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
