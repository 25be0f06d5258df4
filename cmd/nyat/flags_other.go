//go:build !linux

package main

import (
	"github.com/spf13/cobra"

	"github.com/uchouT/nyat/app/config"
)

func addPlatformFlags(cmd *cobra.Command) {}

func applyPlatformFlags(cfg *config.RunConfig) error { return nil }
