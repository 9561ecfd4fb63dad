//go:build !linux

package endpoint

import "syscall"

func bufferControl(_, _ int) func(network, address string, c syscall.RawConn) error {
	return nil
}
