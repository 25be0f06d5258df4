//go:build linux

package main

import (
	"github.com/spf13/cobra"

	"github.com/uchouT/nyat/app/config"
)

var (
	ifaceName  string
	fwmark     uint32
	forceReuse bool
)

func addPlatformFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ifaceName, "iface", "i", "", "network interface to bind to")
	cmd.Flags().Uint32VarP(&fwmark, "fwmark", "f", 0, "firewall mark for policy routing")
	cmd.Flags().BoolVar(&forceReuse, "force-reuse", false, "force SO_REUSEPORT on existing sockets (requires root)")
}

func applyPlatformFlags(cfg *config.RunConfig) error {
	if ifaceName != "" {
		if err := config.CheckIface(ifaceName); err != nil {
			return err
		}
	}
	cfg.Iface = ifaceName
	cfg.Fwmark = fwmark
	cfg.ForceReuse = forceReuse
	return nil
}
