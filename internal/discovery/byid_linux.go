//go:build linux

// internal/discovery/byid_linux.go
package discovery

import (
	"os"
	"path/filepath"
)

const byIDDir = "/dev/serial/by-id"

// ResolveByIDPath finds the stable /dev/serial/by-id symlink pointing
// at the given device path, or "" when none exists.
func ResolveByIDPath(devicePath string) string {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		link := filepath.Join(byIDDir, entry.Name())
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		if target == devicePath {
			return link
		}
	}

	return ""
}
