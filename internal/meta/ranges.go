package meta

import (
	"fmt"
	"math"
)

// RangeType annotates a byte range of a replica.
type RangeType uint8

const (
	RangeNone RangeType = iota
	RangeActive
	RangeRecovering
)

func (t RangeType) String() string {
	switch t {
	case RangeNone:
		return "none"
	case RangeActive:
		return "active"
	case RangeRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("range(%d)", uint8(t))
	}
}

// RangeOpen is the length of an unbounded trailing range. Only an active range
// may be open.
const RangeOpen uint64 = math.MaxUint64

// Range is a contiguous span of bytes held by a replica.
type Range struct {
	Type   RangeType
	Start  uint64
	Length uint64
}

// End returns the first byte past r, or RangeOpen.
func (r Range) End() uint64 {
	if r.Length == RangeOpen {
		return RangeOpen
	}
	return r.Start + r.Length
}

// Canonicalize coalesces adjacent ranges of the same type in place.
func (r *Replica) Canonicalize() {
	if len(r.Ranges) < 2 {
		return
	}
	out := r.Ranges[:1]
	for _, next := range r.Ranges[1:] {
		last := &out[len(out)-1]
		if last.Type == next.Type && last.Length != RangeOpen &&
			(next.Length == RangeOpen || last.Length < RangeOpen-next.Length) {
			if next.Length == RangeOpen {
				last.Length = RangeOpen
			} else {
				last.Length += next.Length
			}
			continue
		}
		out = append(out, next)
	}
	r.Ranges = out
}

// Validate checks that the ranges are gap-free and canonical, and that only
// the final active range is open.
func (r *Replica) Validate() error {
	for i, rg := range r.Ranges {
		last := i == len(r.Ranges)-1
		if rg.Length == RangeOpen && (!last || rg.Type != RangeActive) {
			return fmt.Errorf("%w: open range %d must be the final active range", StatusMetaDataInvalid, i)
		}
		if rg.Length == 0 {
			return fmt.Errorf("%w: empty range %d", StatusMetaDataInvalid, i)
		}
		if rg.Length != RangeOpen && rg.Start > RangeOpen-rg.Length {
			return fmt.Errorf("%w: range %d runs past the end of the address space", StatusMetaDataInvalid, i)
		}
		if i == 0 {
			continue
		}
		prev := r.Ranges[i-1]
		if prev.Type == rg.Type {
			return fmt.Errorf("%w: ranges %d and %d share type %s", StatusMetaDataInvalid, i-1, i, rg.Type)
		}
		if prev.End() != rg.Start {
			return fmt.Errorf("%w: gap before range %d", StatusMetaDataInvalid, i)
		}
	}
	return nil
}
