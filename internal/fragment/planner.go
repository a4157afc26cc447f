package fragment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidFragmentCount     = errors.New("fragment count must be greater than zero")
	ErrContentLengthUnavailable = errors.New("content length unavailable")
	ErrInvalidContentRange      = errors.New("invalid content-range header")
)

// Range is one contiguous byte window of a resource. End is inclusive and
// ignored when Unbounded is set.
type Range struct {
	Index     int
	Start     int64
	End       int64
	Unbounded bool
}

// From returns a range with no known end.
func From(start int64) Range {
	return Range{Start: start, End: -1, Unbounded: true}
}

func (r Range) Open() bool {
	return r.Unbounded
}

// Len returns the number of bytes covered, 0 for an empty range and -1 when open.
func (r Range) Len() int64 {
	if r.Open() {
		return -1
	}
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) Empty() bool {
	return r.Len() == 0
}

// Header renders the value of the Range request header.
func (r Range) Header() string {
	if r.Open() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("#%d[%d-%d]", r.Index, r.Start, r.End)
}

type Plan struct {
	Length int64
	Count  int
	Ranges []Range
}

// Active returns the ranges that need a request, in range order.
func (p Plan) Active() []Range {
	active := make([]Range, 0, len(p.Ranges))
	for _, r := range p.Ranges {
		if !r.Empty() {
			active = append(active, r)
		}
	}
	return active
}

// PlanFragments splits length bytes into count contiguous ranges of
// length/count+1 bytes each, clamping the tail to length-1. Ranges that start
// past the end of the resource are kept but empty.
func PlanFragments(length int64, count int) (Plan, error) {
	if count <= 0 {
		return Plan{}, ErrInvalidFragmentCount
	}
	if length < 0 {
		return Plan{}, ErrContentLengthUnavailable
	}
	size := length/int64(count) + 1
	plan := Plan{Length: length, Count: count, Ranges: make([]Range, count)}
	for i := range count {
		start := int64(i) * size
		end := min(int64(i+1)*size-1, length-1)
		if start >= length {
			// empty: End < Start
			start, end = length, length-1
		}
		plan.Ranges[i] = Range{Index: i, Start: start, End: end}
	}
	return plan, nil
}

// ParseContentRange parses "bytes start-end/total". Total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	window, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	first, last, ok := strings.Cut(window, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
		}
	}
	return start, end, total, nil
}
