package netx

import "errors"

// Reuse forcer failure classes. All of them are retryable from the caller's
// point of view: the foreign process may exit, rebind or change state at
// any moment, so the forcer gives no atomicity guarantees.
var (
	// ErrReusePermission means the caller lacks root / CAP_SYS_PTRACE.
	ErrReusePermission = errors.New("netx: force reuse requires root or CAP_SYS_PTRACE")

	// ErrNoMatchingSocket means no foreign process holds the port.
	ErrNoMatchingSocket = errors.New("netx: no foreign socket bound to port")

	// ErrDuplicationFailed means pidfd_open/pidfd_getfd were rejected,
	// typically on kernels older than 5.6.
	ErrDuplicationFailed = errors.New("netx: descriptor duplication failed")

	// ErrReuseUnsupported is returned on non-Linux targets.
	ErrReuseUnsupported = errors.New("netx: force reuse is linux-only")
)
