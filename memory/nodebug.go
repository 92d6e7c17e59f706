//go:build !linmemdebug

package memory

func verifyZeroed([]byte, uint64) {}
