//go:build unix

package startup

import "golang.org/x/sys/unix"

func isRoot() bool {
	return unix.Geteuid() == 0
}
