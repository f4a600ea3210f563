package conn

import (
	"context"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/yourusername/voltaic/internal/auth"
)

const testResources = "testdata/resources"

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadProcessWriteServesFile(t *testing.T) {
	serverFd, clientFd := socketPair(t)

	var users atomic.Int64
	c := New(serverFd, netip.AddrPort{}, testResources, false, auth.NewFakeBackend(nil), &users)
	require.EqualValues(t, 1, users.Load())

	req := "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := unix.Write(clientFd, []byte(req))
	require.NoError(t, err)

	n, err := c.Read()
	require.NoError(t, err)
	require.Equal(t, len(req), n)

	outcome := c.Process(context.Background())
	require.Equal(t, OutcomeResponseReady, outcome)

	outcome, err = c.Write()
	require.NoError(t, err)
	require.Equal(t, OutcomeWriteComplete, outcome)

	buf := make([]byte, 4096)
	n, err = unix.Read(clientFd, buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "HTTP/1.1 200 OK")
	require.Contains(t, string(buf[:n]), "abcdefghij")

	require.NoError(t, c.Close())
	require.EqualValues(t, 0, users.Load())
}
