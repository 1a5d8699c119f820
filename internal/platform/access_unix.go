//go:build unix

package platform

import "golang.org/x/sys/unix"

const (
	accessRead  = unix.R_OK
	accessWrite = unix.W_OK
)

func checkPath(path string, mode uint32) AccessStatus {
	if err := unix.Access(path, mode); err != nil {
		return AccessDenied
	}
	return AccessGranted
}
