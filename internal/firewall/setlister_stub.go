//go:build !linux
// +build !linux

package firewall

import "fmt"

func newNativeSetLister(tableName string) (SetLister, error) {
	return nil, fmt.Errorf("backend %q requires linux; use %q or %q", BackendNFTables, BackendNft, BackendIPSet)
}
