package instance

import (
	"fmt"
	"strconv"
	"strings"
)

/*
Handle identifies module instance in the Store. It is an index into the
arena of instances plus the generation of the arena slot, so a handle of a
closed instance never resolves to an instance created later in the same slot.
Zero value is never a valid handle.
*/
type Handle struct {
	index uint32
	gen   uint32
}

// ID returns the handle packed into single integer, see HandleFromID.
func (h Handle) ID() uint64 {
	return uint64(h.gen)<<32 | uint64(h.index)
}

func HandleFromID(id uint64) Handle {
	return Handle{index: uint32(id), gen: uint32(id >> 32)}
}

func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

/*
ParseHandle parses handle in the format returned by Handle.String.
*/
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, ".")
	if !ok {
		return Handle{}, fmt.Errorf("invalid instance handle %q, expected format index.generation", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("parsing instance index: %w", err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("parsing instance generation: %w", err)
	}
	return Handle{index: uint32(i), gen: uint32(g)}, nil
}
