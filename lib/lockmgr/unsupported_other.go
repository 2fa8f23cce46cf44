//go:build !unix

package lockmgr

import "errors"

func isUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported)
}
