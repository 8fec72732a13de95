package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	permOwnerRead  = 0o400
	permGroupWrite = 0o020
	permOtherWrite = 0o002
)

// CheckFilePermissions validates a file that drives hardware writes: the
// daemon config or a definition file.
//
// It returns a warning when the file is group-writable and an error when it
// is not a regular file, unreadable by its owner, or writable by others.
func CheckFilePermissions(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s must be a regular file", path)
	}
	perms := info.Mode().Perm()
	if perms&permOwnerRead == 0 {
		return "", fmt.Errorf("%s must be readable by owner (mode %04o)", path, perms)
	}
	if perms&permOtherWrite != 0 {
		return "", fmt.Errorf("%s must not be writable by others (mode %04o)", path, perms)
	}
	if perms&permGroupWrite != 0 {
		return fmt.Sprintf("%s is group-writable (mode %04o); consider chmod 0644", path, perms), nil
	}
	return "", nil
}
