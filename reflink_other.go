//go:build !linux

package actionscache

import (
	"errors"
	"os"
)

func reflink(dst, src *os.File) error {
	return errors.ErrUnsupported
}
