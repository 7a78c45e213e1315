package scanner

import (
	"os"
	"path/filepath"
	"runtime"
)

// RootProvider supplies the root set for "scan everything reachable".
// Injectable so scanning logic can be tested without real volumes.
type RootProvider func() []string

// SystemRoots returns all reachable volume roots on the running machine:
// drive letters on Windows, otherwise "/" plus mounted volumes under
// /media, /mnt, and /Volumes.
func SystemRoots() []string {
	if runtime.GOOS == "windows" {
		roots := make([]string, 0, 4)
		for letter := 'A'; letter <= 'Z'; letter++ {
			drive := string(letter) + `:\`
			if _, err := os.Stat(drive); err == nil {
				roots = append(roots, drive)
			}
		}
		return roots
	}

	roots := []string{"/"}
	for _, mount := range []string{"/media", "/mnt", "/Volumes"} {
		entries, err := os.ReadDir(mount)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				roots = append(roots, filepath.Join(mount, e.Name()))
			}
		}
	}
	return roots
}
