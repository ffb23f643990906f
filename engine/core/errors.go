package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrOutOfMemory         = errors.New("out of memory")
	ErrTooManyObjects      = errors.New("too many objects")
	ErrNotSupported        = errors.New("not supported")
	ErrNotFound            = errors.New("not found")
	ErrOutOfAllocatedSpace = errors.New("out of allocated space")
	ErrInvalidHandle       = errors.New("invalid handle")
	ErrOutOfTempMemory     = errors.New("out of frame temp memory")
	ErrDeviceLost          = errors.New("device lost")
	ErrTimeout             = errors.New("timeout")
	ErrFail                = errors.New("failed")
	ErrUnknown             = errors.New("unknown")
)

// IsCapacityError reports whether err is a recoverable exhaustion of some
// fixed size region: callers may flush and retry on a later frame.
func IsCapacityError(err error) bool {
	return errors.IsAny(err, ErrOutOfMemory, ErrTooManyObjects, ErrOutOfAllocatedSpace, ErrOutOfTempMemory)
}
