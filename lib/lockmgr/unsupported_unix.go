//go:build unix

package lockmgr

import (
	"errors"
	"syscall"
)

// isUnsupported reports whether err signals that the filesystem or platform
// does not implement advisory file locks.
func isUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) ||
		errors.Is(err, syscall.ENOSYS) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, syscall.ENOLCK)
}
