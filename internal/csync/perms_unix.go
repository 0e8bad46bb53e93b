//go:build unix

package csync

import "golang.org/x/sys/unix"

func dirWritable(path string) bool {
	return unix.Access(path, unix.W_OK|unix.X_OK) == nil
}
