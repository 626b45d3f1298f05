package reduce

import "github.com/pkg/errors"

// Structural errors. They are raised once, before any worker starts; a
// worker itself cannot fail.
var (
	ErrInvalidDimension     = errors.New("invalid reduce dimension")
	ErrShapeMismatch        = errors.New("output shape does not match reduced input shape")
	ErrEmptyReduceDimension = errors.New("reduce dimension has size 0")
	ErrUnsupportedDType     = errors.New("unsupported data type")
	ErrUnknownOperation     = errors.New("unknown reduce operation")
	ErrUnknownStrategy      = errors.New("unknown reduce strategy")
)
