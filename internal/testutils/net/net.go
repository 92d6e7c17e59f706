package net

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	mu        sync.Mutex
	usedPorts = map[int]struct{}{}
)

/*
FreeAddress returns "localhost:port" address with port which was free at the
time of the call and which hasn't been handed out to other tests before.
*/
func FreeAddress(t testing.TB) string {
	t.Helper()
	mu.Lock()
	defer mu.Unlock()

	for {
		l, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		addr := l.Addr().(*net.TCPAddr)
		require.NoError(t, l.Close())

		if _, ok := usedPorts[addr.Port]; !ok {
			usedPorts[addr.Port] = struct{}{}
			return addr.String()
		}
	}
}
