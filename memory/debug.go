//go:build linmemdebug

package memory

import "fmt"

// verifyZeroed double checks that the allocator zero initialized the buffer.
func verifyZeroed(buf []byte, from uint64) {
	for i := from; i < uint64(len(buf)); i++ {
		if buf[i] != 0 {
			panic(fmt.Sprintf("allocator returned non-zero byte at offset %d", i))
		}
	}
}
