//go:build !unix

package csync

import "os"

func dirWritable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir() && info.Mode().Perm()&0o200 != 0
}
