//go:build !linux

package config

import "fmt"

func CheckIface(name string) error {
	return fmt.Errorf("interface binding is only supported on linux")
}
