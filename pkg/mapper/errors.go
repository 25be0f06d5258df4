package mapper

import "errors"

// BindError reports that the local socket could not be created or bound.
// Fatal: the mapper cannot make progress without its socket.
type BindError struct {
	Err error
}

func (e *BindError) Error() string { return "mapper: bind failed: " + e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// ResolveError reports a failed DNS resolution of the STUN or remote
// target. Transient: retried on the next cycle.
type ResolveError struct {
	Err error
}

func (e *ResolveError) Error() string { return "mapper: resolve failed: " + e.Err.Error() }
func (e *ResolveError) Unwrap() error { return e.Err }

// StunProtocolError reports a failed STUN exchange: timeout, malformed or
// mismatched responses, or an error response from the server. Transient:
// retried with a fresh transaction.
type StunProtocolError struct {
	Err error
}

func (e *StunProtocolError) Error() string { return "mapper: stun exchange failed: " + e.Err.Error() }
func (e *StunProtocolError) Unwrap() error { return e.Err }

// ConnectError reports a failed TCP connection attempt. Transient with
// bounded backoff.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "mapper: connect failed: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// ReuseForceError reports a failed attempt to force SO_REUSEPORT on a
// foreign socket. Non-fatal on its own; if reuse was the only way to obtain
// the port, the subsequent bind fails with BindError.
type ReuseForceError struct {
	Err error
}

func (e *ReuseForceError) Error() string { return "mapper: force reuse failed: " + e.Err.Error() }
func (e *ReuseForceError) Unwrap() error { return e.Err }

// ConfigError reports invalid builder configuration, caught before any I/O.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "mapper: invalid config: " + e.Reason }

// Recoverable reports whether a caller-side restart loop may retry after
// err. Bind and configuration failures are terminal; everything else the
// run loops surface is worth another attempt.
func Recoverable(err error) bool {
	var bindErr *BindError
	var cfgErr *ConfigError
	if errors.As(err, &bindErr) || errors.As(err, &cfgErr) {
		return false
	}
	return err != nil
}
