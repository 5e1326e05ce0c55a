package caps

import "github.com/pkg/errors"

// ErrDecline is the sentinel a discovery path returns to signal a soft
// declination -- the Orchestrator falls back to the next mechanism
// without surfacing an error to the caller. Lower parsers only ever
// distinguish success from a fatal parse failure; only spawnMonitorProbe
// and probeViaMonitor (which maps MonitorProbe's version decline onto
// it) return this sentinel.
var ErrDecline = errors.New("capability probe declined")

// errNotExecutable and errNoVersion back the two fatal build errors of
// §7 that do not originate from a wrapped stdlib/transport error.
var (
	errNotExecutable = errors.New("not executable")
	errNoVersion     = errors.New("probe completed without a usable version")
)

// ProbeError wraps a fatal build error with the binary path that
// produced it, so callers and logs can identify which probe failed
// without string-matching the message.
type ProbeError struct {
	BinaryPath string
	Err        error
}

func (e *ProbeError) Error() string {
	return e.BinaryPath + ": " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// newProbeError wraps err with msg and the binary path, for the fatal
// build errors of §7: stat failure, non-executable binary,
// unparseable textual output.
func newProbeError(binaryPath, msg string, err error) error {
	return &ProbeError{BinaryPath: binaryPath, Err: errors.Wrap(err, msg)}
}
