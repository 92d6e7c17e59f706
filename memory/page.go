package memory

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/linmem/trap"
)

const (
	// PageSize is the unit of linear memory length, 2^16 bytes.
	PageSize = 1 << PageSizeInBits
	// PageSizeInBits satisfies the relation "1 << PageSizeInBits == PageSize".
	PageSizeInBits = 16
	// MaxPages is the maximum number of pages a 32-bit linear memory may have.
	MaxPages = 1 << 16
)

// PagesToBytes converts the given pages into the number of bytes contained in these pages.
func PagesToBytes(pages uint32) uint64 {
	return uint64(pages) << PageSizeInBits
}

// BytesToPages converts the given number of bytes into the number of whole pages.
func BytesToPages(n uint64) uint32 {
	return uint32(n >> PageSizeInBits)
}

var ErrInvalidLimits = errors.New("invalid memory limits")

/*
Limits of the linear memory in pages. Max is the page count ceiling of the
memory, it is fixed when module is instantiated.
*/
type Limits struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

func (l Limits) Validate() error {
	if l.Max > MaxPages {
		return fmt.Errorf("maximum %d pages exceeds the limit of %d pages", l.Max, MaxPages)
	}
	if l.Min > l.Max {
		return fmt.Errorf("minimum %d pages is greater than maximum %d pages", l.Min, l.Max)
	}
	return nil
}

/*
GrowLength returns the byte length of the memory after growing memory of
"curLen" bytes by "delta" pages. Returns memory out of bounds trap when the
new size would exceed "ceiling" pages.

All arithmetic is done in 64 bits so the result can't wrap around, "delta"
is under control of the guest program.
*/
func GrowLength(curLen uint64, delta, ceiling uint32) (uint64, error) {
	if curLen%PageSize != 0 {
		return 0, fmt.Errorf("current length %d is not a multiple of the page size", curLen)
	}
	if curLen == 0 {
		if delta > ceiling {
			return 0, trap.Raise(trap.MemoryOutOfBounds, "%d pages requested, maximum is %d", delta, ceiling)
		}
		return PagesToBytes(delta), nil
	}

	curPages := curLen >> PageSizeInBits
	newPages := curPages + uint64(delta)
	if newPages > uint64(ceiling) {
		return 0, trap.Raise(trap.MemoryOutOfBounds, "from %d to %d pages, maximum is %d", curPages, newPages, ceiling)
	}
	return newPages << PageSizeInBits, nil
}
