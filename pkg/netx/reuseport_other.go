//go:build !linux

package netx

// ForceReusePort is a stub on non-Linux targets.
func ForceReusePort(port uint16) error {
	return ErrReuseUnsupported
}
