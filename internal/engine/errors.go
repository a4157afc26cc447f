package engine

import (
	"errors"

	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/validation"
)

var (
	ErrInvalidURL               = validation.ErrInvalidURL
	ErrInvalidFragmentCount     = fragment.ErrInvalidFragmentCount
	ErrContentLengthUnavailable = fragment.ErrContentLengthUnavailable
	ErrCancelled                = bridge.ErrCancelled

	ErrRangeNotSupported  = errors.New("server ignored the range request")
	ErrFragmentOverflow   = errors.New("fragment delivered more bytes than its range")
	ErrIncompleteTransfer = errors.New("transfer ended before all bytes arrived")
	ErrPinningLocked      = errors.New("pinning can only be configured once, before the first operation")
	ErrUnknownTask        = errors.New("unknown or finished task")
)
