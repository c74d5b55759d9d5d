//go:build !linux

// internal/discovery/byid_other.go
package discovery

// ResolveByIDPath returns ""; stable by-id symlinks are a Linux udev
// convention.
func ResolveByIDPath(devicePath string) string {
	return ""
}
