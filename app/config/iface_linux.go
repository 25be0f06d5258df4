//go:build linux

package config

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// CheckIface verifies the interface exists before any socket is bound
// to it, so a typo fails at config time instead of on first bind.
func CheckIface(name string) error {
	if _, err := netlink.LinkByName(name); err != nil {
		return fmt.Errorf("interface %q: %w", name, err)
	}
	return nil
}
